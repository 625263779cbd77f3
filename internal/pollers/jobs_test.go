package pollers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (f *fakePruner) PruneHeartbeats(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 4, f.err
}

type fakeExpirer struct {
	cutoff time.Time
}

func (f *fakeExpirer) ExpireCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 1, nil
}

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	cfg := DefaultConfig("heartbeat-retention", time.Hour)
	p := NewHeartbeatRetentionPoller(pruner, 7*24*time.Hour, cfg)
	p.now = func() time.Time { return now }

	require.NoError(t, p.RunNow(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -7), pruner.cutoff)
}

func TestRetentionFailureRetries(t *testing.T) {
	pruner := &fakePruner{err: errors.New("database is locked")}
	cfg := DefaultConfig("heartbeat-retention", time.Hour)
	cfg.RetryDelay = time.Millisecond
	p := NewHeartbeatRetentionPoller(pruner, time.Hour, cfg)

	assert.Error(t, p.RunNow(context.Background()))
}

func TestCommandExpiryCutoff(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	expirer := &fakeExpirer{}
	p := NewCommandExpiryPoller(expirer, 10*time.Minute, DefaultConfig("command-expiry", time.Minute))
	p.now = func() time.Time { return now }

	require.NoError(t, p.RunNow(context.Background()))
	assert.Equal(t, now.Add(-10*time.Minute), expirer.cutoff)
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	cfg := DefaultConfig("command-expiry", time.Hour)
	m.Register(NewCommandExpiryPoller(&fakeExpirer{}, time.Minute, cfg))
	m.Register(NewHeartbeatRetentionPoller(&fakePruner{}, time.Hour, DefaultConfig("heartbeat-retention", time.Hour)))

	m.Register(NewCommandExpiryPoller(&fakeExpirer{}, time.Minute, cfg))

	status := m.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "command-expiry", status[0].Name)
	assert.Equal(t, "heartbeat-retention", status[1].Name)
	assert.Equal(t, "1h0m0s", status[0].Interval)
	assert.False(t, status[0].Running)

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.IsRunning())
	for _, s := range m.Status() {
		assert.True(t, s.Running, s.Name)
	}

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	for _, s := range m.Status() {
		assert.False(t, s.Running, s.Name)
	}
}
