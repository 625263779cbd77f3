package pollers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	mu      sync.Mutex
	results []sourceResult
	calls   int32
}

type sourceResult struct {
	data map[string]time.Time
	err  error
}

func (s *scriptedSource) FetchHeartbeats(ctx context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int(atomic.AddInt32(&s.calls, 1)) - 1
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	r := s.results[n]
	return r.data, r.err
}

func testConfig() PollerConfig {
	cfg := HeartbeatConfig()
	cfg.Interval = time.Hour
	cfg.RetryDelay = time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

var errServer = errors.New("unexpected status 500")

func TestHeartbeatStoreMergeIsMonotonic(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	store := NewHeartbeatStore()

	changed := store.Merge(map[string]time.Time{"a": base, "b": base})
	assert.ElementsMatch(t, []string{"a", "b"}, changed)

	changed = store.Merge(map[string]time.Time{"a": base.Add(-time.Minute), "b": base.Add(time.Second)})
	assert.Equal(t, []string{"b"}, changed)
	assert.Equal(t, base, *store.Get("a"), "older value must not regress")
	assert.Equal(t, base.Add(time.Second), *store.Get("b"))

	changed = store.Merge(map[string]time.Time{"a": base})
	assert.Empty(t, changed, "equal value is accepted but not reported as a change")

	store.Merge(map[string]time.Time{})
	assert.Equal(t, 2, store.Len(), "controllers absent from a response keep their value")
	assert.Nil(t, store.Get("missing"))
}

func TestHeartbeatStoreMergeMax(t *testing.T) {
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	offsets := []time.Duration{-time.Hour, -time.Second, 0, time.Second, time.Hour}
	for _, held := range offsets {
		for _, fetched := range offsets {
			store := NewHeartbeatStore()
			store.Merge(map[string]time.Time{"c": base.Add(held)})
			store.Merge(map[string]time.Time{"c": base.Add(fetched)})

			want := base.Add(held)
			if fetched > held {
				want = base.Add(fetched)
			}
			assert.Equal(t, want, *store.Get("c"))
		}
	}
}

func TestHeartbeatPollerRetriesThenSucceeds(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &scriptedSource{results: []sourceResult{
		{err: errServer},
		{err: errServer},
		{data: map[string]time.Time{"ctrl-1": ts}},
	}}
	p := NewHeartbeatPoller(source, NewHeartbeatStore(), testConfig(), nil)

	require.NoError(t, p.RunNow(context.Background()))
	assert.EqualValues(t, 3, atomic.LoadInt32(&source.calls))
	assert.Equal(t, ts, *p.Store().Get("ctrl-1"))
}

func TestHeartbeatPollerKeepsDataWhenAllAttemptsFail(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewHeartbeatStore()
	store.Merge(map[string]time.Time{"ctrl-1": ts, "ctrl-2": ts.Add(-time.Hour)})
	before := store.Snapshot()

	source := &scriptedSource{results: []sourceResult{{err: errServer}}}
	p := NewHeartbeatPoller(source, store, testConfig(), nil)

	err := p.RunNow(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&source.calls), "three attempts in total")
	assert.Equal(t, before, store.Snapshot())
}

func TestHeartbeatPollerPauseResume(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{{data: map[string]time.Time{"x": time.Now()}}}}
	updates := make(chan []string, 10)
	p := NewHeartbeatPoller(source, NewHeartbeatStore(), testConfig(), func(ids []string) { updates <- ids })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Start(ctx))
	waitUpdate(t, updates)
	assert.EqualValues(t, 1, atomic.LoadInt32(&source.calls), "start fetches immediately")

	require.NoError(t, p.Pause())
	assert.True(t, p.Paused())
	assert.False(t, p.IsRunning())

	require.NoError(t, p.Resume())
	waitUpdate(t, updates)
	assert.EqualValues(t, 2, atomic.LoadInt32(&source.calls), "resume fetches immediately")

	require.NoError(t, p.Stop())
	require.NoError(t, p.Resume())
	assert.False(t, p.IsRunning(), "resume after stop is a no-op")
}

func TestHeartbeatPollerTicks(t *testing.T) {
	source := &scriptedSource{results: []sourceResult{{data: map[string]time.Time{}}}}
	cfg := testConfig()
	cfg.Interval = 5 * time.Millisecond
	p := NewHeartbeatPoller(source, NewHeartbeatStore(), cfg, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&source.calls) >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, p.Stop())
}

func waitUpdate(t *testing.T, ch <-chan []string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat merge")
	}
}
