package pollers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/byosamah/volteria-sub000/internal/logging"
)

// JobStatus is the health view of one background job.
type JobStatus struct {
	Name     string `json:"name"`
	Running  bool   `json:"running"`
	Interval string `json:"interval"`
}

// Manager owns the server-side background jobs. Jobs start in registration
// order and stop in reverse.
type Manager struct {
	mu      sync.Mutex
	jobs    []Poller
	cancel  context.CancelFunc
	running bool
}

func NewManager() *Manager {
	return &Manager{}
}

// Register adds a job. Names must be unique; a duplicate replaces the
// earlier registration.
func (m *Manager) Register(p Poller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.jobs {
		if existing.Name() == p.Name() {
			m.jobs[i] = p
			return
		}
	}
	m.jobs = append(m.jobs, p)
	logging.DebugWithComponent(logging.ComponentPoller, "Registered job", "job", p.Name(), "interval", p.GetInterval())
}

// Start launches every job. A job that fails to start is logged and skipped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	started := 0
	for _, p := range m.jobs {
		if err := p.Start(jobCtx); err != nil {
			logging.ErrorWithComponent(logging.ComponentPoller, "Failed to start job", "job", p.Name(), "error", err)
			continue
		}
		started++
	}
	logging.InfoWithComponent(logging.ComponentPoller, "Background jobs started", "started", started, "registered", len(m.jobs))
	return nil
}

// Stop halts every job, waiting for in-flight runs, and joins their errors.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}

	var errs []error
	for i := len(m.jobs) - 1; i >= 0; i-- {
		p := m.jobs[i]
		if !p.IsRunning() {
			continue
		}
		if err := p.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", p.Name(), err))
		}
	}
	m.cancel()
	m.running = false

	logging.InfoWithComponent(logging.ComponentShutdown, "Background jobs stopped")
	return errors.Join(errs...)
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status lists every registered job in registration order.
func (m *Manager) Status() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobStatus, len(m.jobs))
	for i, p := range m.jobs {
		out[i] = JobStatus{
			Name:     p.Name(),
			Running:  p.IsRunning(),
			Interval: p.GetInterval().Round(time.Second).String(),
		}
	}
	return out
}
