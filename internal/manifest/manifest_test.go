package manifest

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedb/website-search/pkg/config"
	apperrors "github.com/edgedb/website-search/pkg/errors"
	"github.com/edgedb/website-search/pkg/postgres"
)

// newTestStore connects to the database named by SS_TEST_POSTGRES_HOST or
// skips.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	host := os.Getenv("SS_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("SS_TEST_POSTGRES_HOST not set")
	}
	db, err := postgres.New(config.PostgresConfig{
		Host:     host,
		Port:     5432,
		Database: "sitesearch_test",
		User:     "sitesearch",
		Password: "localdev",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestRecordAndLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	domain := "test-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	t.Cleanup(func() {
		s.db.DB.Exec(`DELETE FROM index_builds WHERE domain = $1`, domain)
	})

	_, err := s.Latest(ctx, domain)
	assert.ErrorIs(t, err, apperrors.ErrIndexNotLoaded)

	first := Build{Domain: domain, IndexID: "aaa", Path: "/a", Documents: 3, Terms: 10, Size: 100, CompressedSize: 40,
		BuiltAt: time.Now().Add(-time.Hour).Truncate(time.Second)}
	second := first
	second.IndexID, second.Path, second.BuiltAt = "bbb", "/b", time.Now().Truncate(time.Second)

	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, second))
	require.NoError(t, s.Record(ctx, second))

	latest, err := s.Latest(ctx, domain)
	require.NoError(t, err)
	assert.Equal(t, "bbb", latest.IndexID)
	assert.Equal(t, "/b", latest.Path)

	history, err := s.History(ctx, domain, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "aaa", history[1].IndexID)
}
