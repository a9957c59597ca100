package sitebuild

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/edgedb/website-search/internal/jolr/schema"
	apperrors "github.com/edgedb/website-search/pkg/errors"
)

// htmlSuffix marks a record key whose value is HTML. It is flattened to
// plain text and stored under the key without the suffix.
const htmlSuffix = "_html"

// ReadRecords decodes a stream of JSON objects, one content record each,
// as produced by the site's content extraction. Values must be strings or
// null. A record without a summary gets one from the first paragraph of
// its content.
func ReadRecords(r io.Reader) ([]schema.Record, error) {
	dec := json.NewDecoder(r)
	var records []schema.Record
	for n := 1; ; n++ {
		var raw map[string]*string
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return nil, apperrors.Config(apperrors.ErrInvalidInput, "record %d: %v", n, err)
		}
		rec, err := toRecord(raw)
		if err != nil {
			return nil, apperrors.Config(apperrors.ErrInvalidInput, "record %d: %v", n, err)
		}
		records = append(records, rec)
	}
}

// LoadRecords reads the records file at path.
func LoadRecords(path string) ([]schema.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening records: %w", err)
	}
	defer f.Close()
	records, err := ReadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

func toRecord(raw map[string]*string) (schema.Record, error) {
	rec := make(schema.Record, len(raw))
	for key, val := range raw {
		if val == nil || *val == "" {
			continue
		}
		name, isHTML := strings.CutSuffix(key, htmlSuffix)
		if !isHTML {
			rec[key] = *val
			continue
		}
		text, err := PlainText(*val)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		if text != "" {
			rec[name] = text
		}
	}
	if rec[FieldSummary] == "" && rec[FieldContent] != "" {
		rec[FieldSummary] = Summarify(FirstParagraph(rec[FieldContent]), DefaultSummaryLength)
	}
	return rec, nil
}
