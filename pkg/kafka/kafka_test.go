package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
}

func TestDecodeJSON(t *testing.T) {
	ev, err := DecodeJSON[published]([]byte(`{"domain":"docs","id":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, published{Domain: "docs", ID: "abc"}, ev)

	_, err = DecodeJSON[published]([]byte(`{`))
	assert.Error(t, err)
}

func TestJSONHandler(t *testing.T) {
	var got published
	h := JSONHandler(func(ctx context.Context, ev published) error {
		got = ev
		if ev.ID == "" {
			return errors.New("missing id")
		}
		return nil
	})

	require.NoError(t, h(context.Background(), []byte("docs"), []byte(`{"domain":"docs","id":"1"}`)))
	assert.Equal(t, "1", got.ID)
	assert.Error(t, h(context.Background(), nil, []byte(`{"domain":"docs"}`)))
	assert.Error(t, h(context.Background(), nil, []byte(`not json`)))
}

func TestEncode(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "docs", Value: published{Domain: "docs", ID: "1"}},
		{Key: "blog", Value: map[string]int{"n": 2}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("docs"), msgs[0].Key)
	assert.JSONEq(t, `{"domain":"docs","id":"1"}`, string(msgs[0].Value))

	_, err = encode([]Event{{Key: "bad", Value: make(chan int)}})
	assert.Error(t, err)
}
