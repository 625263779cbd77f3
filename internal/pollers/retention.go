package pollers

import (
	"context"
	"fmt"
	"time"

	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/metrics"
)

// HeartbeatPruner deletes heartbeat history older than cutoff. Implementations
// must keep every controller's most recent row.
type HeartbeatPruner interface {
	PruneHeartbeats(ctx context.Context, cutoff time.Time) (int64, error)
}

// HeartbeatRetentionPoller trims the append-only heartbeat table.
type HeartbeatRetentionPoller struct {
	*BasePoller
	pruner    HeartbeatPruner
	retention time.Duration
	now       func() time.Time
}

func NewHeartbeatRetentionPoller(pruner HeartbeatPruner, retention time.Duration, config PollerConfig) *HeartbeatRetentionPoller {
	p := &HeartbeatRetentionPoller{
		pruner:    pruner,
		retention: retention,
		now:       time.Now,
	}
	p.BasePoller = NewBasePoller(config, p.poll)
	return p
}

func (p *HeartbeatRetentionPoller) poll(ctx context.Context) error {
	cutoff := p.now().Add(-p.retention)
	n, err := p.pruner.PruneHeartbeats(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune heartbeats: %w", err)
	}
	if n > 0 {
		metrics.HeartbeatsPruned.Add(float64(n))
		logging.InfoWithComponent(logging.ComponentHeartbeat, "Pruned heartbeat history", "rows", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
