package pollers

import (
	"context"
	"time"
)

// Poller is a background job run on a fixed interval.
type Poller interface {
	Name() string

	// Start begins the polling loop in a goroutine. The first run happens immediately.
	Start(ctx context.Context) error

	// Stop cancels the loop and waits for an in-flight run to return.
	Stop() error

	IsRunning() bool

	GetInterval() time.Duration

	// SetInterval takes effect on the next Start.
	SetInterval(interval time.Duration)
}

// PollerConfig holds configuration for a poller.
// MaxRetries is the total number of attempts per run, not the number of retries after the first.
type PollerConfig struct {
	Name       string
	Interval   time.Duration
	Enabled    bool
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DefaultConfig returns a server-side job configuration.
func DefaultConfig(name string, interval time.Duration) PollerConfig {
	return PollerConfig{
		Name:       name,
		Interval:   interval,
		Enabled:    true,
		MaxRetries: 3,
		RetryDelay: 30 * time.Second,
		Timeout:    60 * time.Second,
	}
}

// HeartbeatConfig is the client heartbeat cadence: every 30s, three attempts, one second apart.
func HeartbeatConfig() PollerConfig {
	return PollerConfig{
		Name:       "heartbeats",
		Interval:   30 * time.Second,
		Enabled:    true,
		MaxRetries: 3,
		RetryDelay: time.Second,
		Timeout:    10 * time.Second,
	}
}
