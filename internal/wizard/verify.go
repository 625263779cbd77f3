package wizard

import (
	"context"
	"time"

	"github.com/byosamah/volteria-sub000/internal/connectivity"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

// VerifyOutcome is the terminal state of a verify online wait.
type VerifyOutcome string

const (
	VerifyOnline  VerifyOutcome = "online"
	VerifyTimeout VerifyOutcome = "timeout"
)

const (
	VerifyPollInterval = 5 * time.Second
	VerifyTimeoutAfter = 5 * time.Minute
)

// HeartbeatLookup returns the latest heartbeat of a controller, nil if none.
type HeartbeatLookup interface {
	LatestHeartbeat(ctx context.Context, controllerID string) (*time.Time, error)
}

// Verifier waits for a controller's first live heartbeat.
type Verifier struct {
	Lookup   HeartbeatLookup
	Interval time.Duration
	Timeout  time.Duration
	Now      func() time.Time
}

// NewVerifier uses the default 5s cadence and 5 minute deadline.
func NewVerifier(lookup HeartbeatLookup) *Verifier {
	return &Verifier{
		Lookup:   lookup,
		Interval: VerifyPollInterval,
		Timeout:  VerifyTimeoutAfter,
		Now:      time.Now,
	}
}

// Wait polls until the controller is online or the deadline passes. Lookup
// errors are logged and polling continues. A VerifyTimeout result may be
// retried by calling Wait again. The returned error is only set when ctx ends.
func (v *Verifier) Wait(ctx context.Context, controllerID string) (VerifyOutcome, *time.Time, error) {
	deadline := time.NewTimer(v.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(v.Interval)
	defer ticker.Stop()

	for {
		last, err := v.Lookup.LatestHeartbeat(ctx, controllerID)
		if err != nil {
			logging.DebugWithComponent(logging.ComponentWizard, "Heartbeat lookup failed", "controller_id", controllerID, "error", err)
		} else if connectivity.IsOnline(last, v.Now()) {
			return VerifyOnline, last, nil
		}

		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-deadline.C:
			return VerifyTimeout, nil, nil
		case <-ticker.C:
		}
	}
}
