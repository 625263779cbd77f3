package pollers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/metrics"
)

// BasePoller runs pollFunc on an interval with per-attempt timeouts and retries.
type BasePoller struct {
	config   PollerConfig
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	runMu    sync.Mutex
	pollFunc func(ctx context.Context) error
}

func NewBasePoller(config PollerConfig, pollFunc func(ctx context.Context) error) *BasePoller {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	return &BasePoller{
		config:   config,
		pollFunc: pollFunc,
	}
}

func (p *BasePoller) Name() string {
	return p.config.Name
}

// Start launches the loop; the first run happens immediately.
func (p *BasePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if !p.config.Enabled {
		logging.InfoWithComponent(logging.ComponentPoller, "Poller disabled, skipping start", "poller", p.config.Name)
		return nil
	}

	logging.DebugWithComponent(logging.ComponentPoller, "Starting poller", "poller", p.config.Name, "interval", p.config.Interval)

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.pollLoop(loopCtx, p.config)

	return nil
}

// Stop cancels the loop and waits for an in-flight run.
func (p *BasePoller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	logging.DebugWithComponent(logging.ComponentPoller, "Poller stopped", "poller", p.config.Name)
	return nil
}

func (p *BasePoller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *BasePoller) GetInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.Interval
}

// SetInterval applies from the next Start.
func (p *BasePoller) SetInterval(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.Interval = interval
}

// RunNow executes one run (with retries) on the caller's goroutine.
// Runs never overlap: a scheduled tick waits for a manual run and vice versa.
func (p *BasePoller) RunNow(ctx context.Context) error {
	p.mu.RLock()
	cfg := p.config
	p.mu.RUnlock()
	return p.executeWithRetry(ctx, cfg)
}

func (p *BasePoller) pollLoop(ctx context.Context, cfg PollerConfig) {
	defer p.wg.Done()

	p.executeWithRetry(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.executeWithRetry(ctx, cfg)
		}
	}
}

func (p *BasePoller) executeWithRetry(ctx context.Context, cfg PollerConfig) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	var err error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err = p.pollFunc(attemptCtx)
		cancel()

		if err == nil {
			metrics.PollerRuns.WithLabelValues(cfg.Name, metrics.PollResult(nil)).Inc()
			return nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}

		metrics.PollerAttemptFailures.WithLabelValues(cfg.Name).Inc()
		logging.DebugWithComponent(logging.ComponentPoller, "Poll attempt failed",
			"poller", cfg.Name, "attempt", attempt+1, "max", cfg.MaxRetries, "error", err)

		if attempt < cfg.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.RetryDelay):
			}
		}
	}

	metrics.PollerRuns.WithLabelValues(cfg.Name, metrics.PollResult(err)).Inc()
	logging.WarnWithComponent(logging.ComponentPoller, "Poll failed after all attempts",
		"poller", cfg.Name, "attempts", cfg.MaxRetries, "error", err)
	return err
}
