package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-auth/internal/observability/statsd"
)

type stubPurger struct {
	mu      sync.Mutex
	calls   int
	removed int64
	err     error
}

func (p *stubPurger) PurgeExpired(context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.removed, p.err
}

func (p *stubPurger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestNewRunner_RequiresPurger(t *testing.T) {
	_, err := NewRunner(RunnerOptions{})
	require.Error(t, err)
}

func TestRunner_RunOnceRecordsMetrics(t *testing.T) {
	rec := &statsd.Recorder{}
	r, err := NewRunner(RunnerOptions{Purger: &stubPurger{removed: 3}, Metrics: rec})
	require.NoError(t, err)

	removed, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	counts := rec.Find("auth.storage_purge")
	require.Len(t, counts, 1)
	assert.Equal(t, "success", counts[0].Tags["result"])
	gauges := rec.Find("auth.storage_purge.removed")
	require.Len(t, gauges, 1)
	assert.InDelta(t, 3.0, gauges[0].Value, 0)
}

func TestRunner_RunOnceError(t *testing.T) {
	rec := &statsd.Recorder{}
	r, err := NewRunner(RunnerOptions{Purger: &stubPurger{err: errors.New("boom")}, Metrics: rec})
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	require.Error(t, err)

	counts := rec.Find("auth.storage_purge")
	require.Len(t, counts, 1)
	assert.Equal(t, "error", counts[0].Tags["result"])
	assert.NotEmpty(t, counts[0].Tags["error_class"])
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	p := &stubPurger{err: errors.New("db down")}
	r, err := NewRunner(RunnerOptions{Purger: p, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return p.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
