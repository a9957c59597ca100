package blob

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedb/website-search/internal/jolr/schema"
)

func sampleBlob() *Blob {
	idx := NewRawIndex()
	idx.Add("alpha", 0, 0, 1)
	idx.Add("beta", 0, 0, 1)
	idx.Add("alpha", 0, 1, 1)
	idx.Add("alpha", 1, 1, 2)
	idx.Add("alpha", 0, 1, 1)
	return &Blob{
		Fields: []schema.FieldDescriptor{
			{ID: 0, Name: "title", Index: true, Publish: true, Type: schema.TypeText, Count: 2},
			{ID: 1, Name: "type", Index: true, Publish: true, Type: schema.TypeEnum, Count: 1, Enum: []string{"section"}},
		},
		Documents: []Document{
			{"alpha beta", nil, 1.0},
			{"alpha", 0, 2.5},
		},
		Index: idx,
	}
}

func TestRawIndexAccumulates(t *testing.T) {
	b := sampleBlob()
	assert.Equal(t, []Posting{
		{Field: 0, Doc: 0, Freq: 1},
		{Field: 0, Doc: 1, Freq: 2},
		{Field: 1, Doc: 1, Freq: 2},
	}, b.Index.Postings("alpha"))
	assert.Equal(t, 2, b.Index.Terms())
	assert.Nil(t, b.Index.Postings("alp"))
	assert.Nil(t, b.Index.Postings("gamma"))
}

func TestRawIndexJSON(t *testing.T) {
	idx := NewRawIndex()
	idx.Add("ab", 0, 0, 1)
	idx.Add("a", 1, 0, 2)
	idx.Add("é", 0, 3, 1)

	data, err := json.Marshal(idx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{" ":[1,0,2],"b":{" ":[0,0,1]}},"é":{" ":[0,3,1]}}`, string(data))

	var decoded RawIndex
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 3, decoded.Terms())

	var terms []string
	decoded.Walk(func(term string, postings []Posting) {
		terms = append(terms, term)
	})
	assert.Equal(t, []string{"a", "ab", "é"}, terms)
	assert.Equal(t, []Posting{{Field: 0, Doc: 3, Freq: 1}}, decoded.Postings("é"))
}

func TestRawIndexRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"multi char key": `{"ab":{}}`,
		"bad postings":   `{"a":{" ":[1,2]}}`,
		"not an object":  `[1,2,3]`,
		"postings type":  `{"a":{" ":"x"}}`,
		"unterminated":   `{"a":{`,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			var idx RawIndex
			assert.Error(t, json.Unmarshal([]byte(input), &idx))
		})
	}
}

func TestPackUnpack(t *testing.T) {
	b := sampleBlob()
	packed, err := Pack(b)
	require.NoError(t, err)

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	sum := sha1.Sum(raw)
	assert.Equal(t, hex.EncodeToString(sum[:]), packed.ID)
	assert.Greater(t, packed.Size, 0)
	assert.True(t, isGzip(packed.Compressed))

	env, err := Unpack(packed.Compressed)
	require.NoError(t, err)
	assert.Equal(t, packed.ID, env.ID)
	assert.Equal(t, b.Fields, env.Index.Fields)
	require.Len(t, env.Index.Documents, 2)
	assert.Equal(t, Document{"alpha", 0.0, 2.5}, env.Index.Documents[1])
	assert.Equal(t, b.Index.Postings("alpha"), env.Index.Index.Postings("alpha"))
}

func TestUnpackPlainJSON(t *testing.T) {
	env, err := Unpack([]byte(`{"id":"x","index":{"fields":[],"documents":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "x", env.ID)
	assert.Equal(t, 0, env.Index.Index.Terms())

	_, err = Unpack([]byte(`{"id":"x"}`))
	assert.Error(t, err)
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs", "docsearch"+Extension)
	packed, err := Pack(sampleBlob())
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, packed.Compressed))

	env, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, packed.ID, env.ID)

	assert.NoFileExists(t, path+".tmp")

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing"+Extension))
	assert.Error(t, err)
}
