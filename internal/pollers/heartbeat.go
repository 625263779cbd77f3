package pollers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/byosamah/volteria-sub000/internal/logging"
)

// HeartbeatSource fetches the {controllerID: latest timestamp} map.
type HeartbeatSource interface {
	FetchHeartbeats(ctx context.Context) (map[string]time.Time, error)
}

// HeartbeatPoller keeps a HeartbeatStore fresh. Pause stops the interval
// entirely; Resume fetches immediately and restarts it.
type HeartbeatPoller struct {
	*BasePoller
	source   HeartbeatSource
	store    *HeartbeatStore
	onUpdate func(changed []string)

	stateMu sync.Mutex
	parent  context.Context
	paused  bool
	stopped bool
}

// NewHeartbeatPoller creates a poller writing into store. onUpdate, if set, is
// called after every successful merge with the ids whose value changed.
func NewHeartbeatPoller(source HeartbeatSource, store *HeartbeatStore, config PollerConfig, onUpdate func([]string)) *HeartbeatPoller {
	p := &HeartbeatPoller{
		source:   source,
		store:    store,
		onUpdate: onUpdate,
	}
	p.BasePoller = NewBasePoller(config, p.poll)
	return p
}

func (p *HeartbeatPoller) poll(ctx context.Context) error {
	fetched, err := p.source.FetchHeartbeats(ctx)
	if err != nil {
		return fmt.Errorf("fetch heartbeats: %w", err)
	}
	changed := p.store.Merge(fetched)
	logging.DebugWithComponent(logging.ComponentHeartbeat, "Heartbeats merged", "fetched", len(fetched), "changed", len(changed))
	if p.onUpdate != nil {
		p.onUpdate(changed)
	}
	return nil
}

// Store returns the store the poller writes into.
func (p *HeartbeatPoller) Store() *HeartbeatStore {
	return p.store
}

// Start runs the first fetch immediately and then every Interval.
func (p *HeartbeatPoller) Start(ctx context.Context) error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.stopped {
		return nil
	}
	p.parent = ctx
	p.paused = false
	return p.BasePoller.Start(ctx)
}

// Pause suspends polling without discarding held data.
func (p *HeartbeatPoller) Pause() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.stopped || p.paused {
		return nil
	}
	p.paused = true
	return p.BasePoller.Stop()
}

// Resume restarts a paused poller with an immediate fetch.
func (p *HeartbeatPoller) Resume() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.stopped || !p.paused || p.parent == nil {
		return nil
	}
	p.paused = false
	return p.BasePoller.Start(p.parent)
}

// Paused reports whether the poller is suspended.
func (p *HeartbeatPoller) Paused() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.paused
}

// Stop ends polling permanently; later Start and Resume calls are no-ops.
func (p *HeartbeatPoller) Stop() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.stopped = true
	return p.BasePoller.Stop()
}
