package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgedb/website-search/internal/analytics"
	"github.com/edgedb/website-search/internal/jolr/blob"
	"github.com/edgedb/website-search/internal/manifest"
	"github.com/edgedb/website-search/pkg/config"
	apperrors "github.com/edgedb/website-search/pkg/errors"
	"github.com/edgedb/website-search/pkg/kafka"
	"github.com/edgedb/website-search/pkg/metrics"
	"github.com/edgedb/website-search/pkg/resilience"
)

const docsRecords = `{"type":"section","relname":"guides/quickstart","title":"Quickstart","content":"Install the CLI and create a project"}
{"type":"section","relname":"reference/edgeql","title":"EdgeQL","content":"EdgeQL is the query language"}
{"type":"operator","relname":"reference/std/string","name":"++","signature":"str ++ str -> str","summary":"Concatenate."}
`

const brokenRecords = `{"type":"section","relname":"x","content":"no heading"}
`

type fakePublisher struct {
	mu     sync.Mutex
	events []kafka.Event
	fails  int
}

func (p *fakePublisher) Publish(ctx context.Context, e kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	builds []manifest.Build
	err    error
}

func (r *fakeRecorder) Record(ctx context.Context, b manifest.Build) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.builds = append(r.builds, b)
	return nil
}

func writeRecords(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

var fastRetry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

func TestRunBuildsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	cfg := config.BuildConfig{
		OutputDir:   filepath.Join(dir, "out"),
		Concurrency: 2,
		Domains: []config.DomainConfig{
			{Name: "docs", Records: writeRecords(t, dir, "docs", docsRecords), Boosts: map[string]float64{"reference": 2}},
			{Name: "blog", Records: writeRecords(t, dir, "blog", docsRecords)},
		},
	}
	pub := &fakePublisher{fails: 1}
	rec := &fakeRecorder{}
	reg := prometheus.NewRegistry()
	built := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := New(cfg, WithPublisher(pub), WithRecorder(rec), WithMetrics(metrics.NewWithRegistry(reg)), WithRetry(fastRetry))
	p.now = func() time.Time { return built }

	builds, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, builds, 2)

	docs := builds[0]
	assert.Equal(t, "docs", docs.Domain)
	assert.Equal(t, filepath.Join(dir, "out", "docs", "docssearch.jolrindex"), docs.Path)
	assert.Equal(t, 3, docs.Documents)
	assert.Equal(t, built, docs.BuiltAt)
	assert.Greater(t, docs.Size, docs.CompressedSize)

	env, err := blob.ReadFile(docs.Path)
	require.NoError(t, err)
	assert.Equal(t, docs.IndexID, env.ID)
	assert.Equal(t, 2.0, env.Index.Documents[1][len(env.Index.Fields)])
	assert.NotEqual(t, docs.IndexID, builds[1].IndexID, "boosts change the blob")

	assert.Len(t, rec.builds, 2)
	require.Len(t, pub.events, 2)
	for _, e := range pub.events {
		ev := e.Value.(analytics.IndexEvent)
		assert.Equal(t, analytics.EventIndexPublished, ev.Type)
		assert.Equal(t, e.Key, ev.Domain)
	}

	assert.Equal(t, 1.0, metricValue(t, reg, "index_builds_total", map[string]string{"domain": "docs", "status": "ok"}))
	assert.Equal(t, 3.0, metricValue(t, reg, "index_build_documents", map[string]string{"domain": "blog"}))
}

func TestRunSelectsDomains(t *testing.T) {
	dir := t.TempDir()
	cfg := config.BuildConfig{
		OutputDir: dir,
		Domains: []config.DomainConfig{
			{Name: "docs", Records: writeRecords(t, dir, "docs", docsRecords)},
			{Name: "broken", Records: writeRecords(t, dir, "broken", brokenRecords)},
		},
	}
	p := New(cfg)

	builds, err := p.Run(context.Background(), "docs")
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.FileExists(t, IndexPath(dir, "docs"))

	_, err = p.Run(context.Background(), "docs", "nope")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = New(config.BuildConfig{}).Run(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRunFailures(t *testing.T) {
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	cfg := config.BuildConfig{
		OutputDir: dir,
		Domains: []config.DomainConfig{
			{Name: "broken", Records: writeRecords(t, dir, "broken", brokenRecords)},
			{Name: "missing", Records: filepath.Join(dir, "missing.jsonl")},
			{Name: "docs", Records: writeRecords(t, dir, "docs", docsRecords)},
		},
	}
	p := New(cfg, WithMetrics(metrics.NewWithRegistry(reg)))

	_, err := p.Run(context.Background(), "broken")
	assert.ErrorIs(t, err, apperrors.ErrBrokenDocuments)
	assert.NoFileExists(t, IndexPath(dir, "broken"))
	assert.Equal(t, 1.0, metricValue(t, reg, "index_builds_total", map[string]string{"domain": "broken", "status": "error"}))

	_, err = p.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	rec := &fakeRecorder{err: errors.New("db down")}
	p = New(cfg, WithRecorder(rec), WithRetry(fastRetry))
	_, err = p.Run(context.Background(), "docs")
	assert.ErrorContains(t, err, "recording build")
}
