// Package connectivity derives a controller's online state from its most
// recent heartbeat. Nothing here is stored: the result is recomputed from the
// timestamp every time it is read.
package connectivity

import (
	"fmt"
	"time"
)

const (
	// HeartbeatInterval is the nominal agent reporting cadence.
	HeartbeatInterval = 30 * time.Second

	// OnlineThreshold is three heartbeat intervals: one missed heartbeat keeps
	// the controller online, two consecutive misses take it offline.
	OnlineThreshold = 3 * HeartbeatInterval

	// NeverLabel is shown for controllers that have never reported.
	NeverLabel = "Never"
)

// Status is the derived connectivity of one controller.
type Status struct {
	Online        bool       `json:"online"`
	Label         string     `json:"last_seen_label"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// age returns how long ago last was, clamping future timestamps to zero.
func age(last, now time.Time) time.Duration {
	d := now.Sub(last)
	if d < 0 {
		return 0
	}
	return d
}

// IsOnline reports whether last is strictly younger than OnlineThreshold.
// A nil heartbeat is always offline; a future-dated one counts as online.
func IsOnline(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	return age(*last, now) < OnlineThreshold
}

// Label renders the relative age of last: "Just now", "5m ago", "3h ago",
// "2d ago" or "Never".
func Label(last *time.Time, now time.Time) string {
	if last == nil {
		return NeverLabel
	}
	d := age(*last, now)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

// Classify combines IsOnline and Label for display.
func Classify(last *time.Time, now time.Time) Status {
	return Status{
		Online:        IsOnline(last, now),
		Label:         Label(last, now),
		LastHeartbeat: last,
	}
}
