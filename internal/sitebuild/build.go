package sitebuild

import (
	"fmt"

	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/jolr/builder"
	"github.com/edgedb/website-search/internal/jolr/schema"
)

// BuildIndex indexes records under the site schema, boosting each by its
// relname, and rejects the result if any document cannot be displayed.
func BuildIndex(records []schema.Record, boosts *Boosts, opts ...builder.Option) (*blob.Blob, builder.Stats, error) {
	b := builder.New(opts...)
	if err := DeclareFields(b); err != nil {
		return nil, builder.Stats{}, err
	}
	for _, rec := range records {
		if err := b.AddBoostedDocument(rec, boosts.For(rec[FieldRelname])); err != nil {
			return nil, builder.Stats{}, fmt.Errorf("indexing %s: %w", rec[FieldRelname], err)
		}
	}
	stats := b.Stats()
	out := b.Build()
	if err := CheckBroken(out); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}
