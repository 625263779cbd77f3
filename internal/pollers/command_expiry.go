package pollers

import (
	"context"
	"fmt"
	"time"

	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/metrics"
)

// CommandExpirer marks pending agent commands created before cutoff as expired.
type CommandExpirer interface {
	ExpireCommands(ctx context.Context, cutoff time.Time) (int64, error)
}

// CommandExpiryPoller expires commands no agent picked up within the TTL.
type CommandExpiryPoller struct {
	*BasePoller
	expirer CommandExpirer
	ttl     time.Duration
	now     func() time.Time
}

func NewCommandExpiryPoller(expirer CommandExpirer, ttl time.Duration, config PollerConfig) *CommandExpiryPoller {
	p := &CommandExpiryPoller{
		expirer: expirer,
		ttl:     ttl,
		now:     time.Now,
	}
	p.BasePoller = NewBasePoller(config, p.poll)
	return p
}

func (p *CommandExpiryPoller) poll(ctx context.Context) error {
	n, err := p.expirer.ExpireCommands(ctx, p.now().Add(-p.ttl))
	if err != nil {
		return fmt.Errorf("expire commands: %w", err)
	}
	if n > 0 {
		metrics.CommandsExpired.Add(float64(n))
		logging.InfoWithComponent(logging.ComponentAgent, "Expired stale commands", "count", n)
	}
	return nil
}
