// Package blob defines the serialized search index: the field schema, the
// positional published documents and the raw index trie, wrapped in an
// envelope carrying a content hash and gzip-compressed for transport.
package blob

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/edgedb/website-search/internal/jolr/schema"
)

// Extension is the file extension of packed indexes.
const Extension = ".jolrindex"

// Document is a positional array indexed by field id. Unpublished or
// missing fields hold nil; the final slot is the document boost.
type Document []any

// Blob is the complete serialized index.
type Blob struct {
	Fields    []schema.FieldDescriptor `json:"fields"`
	Documents []Document               `json:"documents"`
	Index     *RawIndex                `json:"index"`
}

// Envelope pairs a blob with the sha1 of its JSON encoding.
type Envelope struct {
	ID    string `json:"id"`
	Index *Blob  `json:"index"`
}

// Packed is an encoded envelope ready to be written or served.
type Packed struct {
	ID         string
	Size       int
	Compressed []byte
}

type rawEnvelope struct {
	ID    string          `json:"id"`
	Index json.RawMessage `json:"index"`
}

// Pack hashes and gzips b.
func Pack(b *Blob) (*Packed, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshaling index: %w", err)
	}
	sum := sha1.Sum(raw)
	id := hex.EncodeToString(sum[:])

	data, err := json.Marshal(rawEnvelope{ID: id, Index: raw})
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing index: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing index: %w", err)
	}
	return &Packed{ID: id, Size: len(data), Compressed: buf.Bytes()}, nil
}

// Unpack decodes a packed envelope. Uncompressed JSON is accepted as well.
func Unpack(data []byte) (*Envelope, error) {
	var r io.Reader = bytes.NewReader(data)
	if isGzip(data) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return Decode(r)
}

// Decode reads an uncompressed envelope.
func Decode(r io.Reader) (*Envelope, error) {
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Index == nil {
		return nil, fmt.Errorf("decoding envelope: missing index")
	}
	if env.Index.Index == nil {
		env.Index.Index = NewRawIndex()
	}
	return &env, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
