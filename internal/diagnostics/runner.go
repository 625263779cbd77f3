package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/byosamah/volteria-sub000/internal/connectivity"
	"github.com/byosamah/volteria-sub000/internal/database"
	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/metrics"
)

// Remote commands executed over the tunnel.
const (
	serviceHealthCmd  = "systemctl is-active volteria-agent volteria-modbus volteria-control"
	deviceReadingsCmd = "volteria-agent check readings"
	controlLogicCmd   = "volteria-agent check control"
	otaReadinessCmd   = "df -Pk / | tail -1"
)

// MinFreeKB is the free root filesystem space an OTA update needs.
const MinFreeKB = 512 * 1024

// Target is everything the suite needs to know about one controller.
type Target struct {
	ControllerID  string
	SSHPort       *int
	LastHeartbeat *time.Time
	// LastSyncState is the state of the latest sync_config command, empty
	// when none was ever sent.
	LastSyncState string
}

// Runner executes the suite. Concurrent runs for the same controller share
// one execution.
type Runner struct {
	Dialer     Dialer
	TunnelHost string
	Timeout    time.Duration
	Now        func() time.Time

	group singleflight.Group
}

func NewRunner(dialer Dialer, tunnelHost string) *Runner {
	return &Runner{
		Dialer:     dialer,
		TunnelHost: tunnelHost,
		Timeout:    2 * time.Minute,
		Now:        time.Now,
	}
}

// Run executes every check in order and rolls the results up. The shared
// execution is detached from any single caller: a caller that gives up
// gets ctx.Err() while the others still receive the report.
func (r *Runner) Run(ctx context.Context, t Target) (*Report, error) {
	runCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(t.ControllerID, func() (interface{}, error) {
		return r.run(runCtx, t), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logging.DebugWithComponent(logging.ComponentDiagnostics, "Joined in-flight test run", "controller_id", t.ControllerID)
		}
		return res.Val.(*Report), nil
	}
}

func (r *Runner) run(ctx context.Context, t Target) *Report {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	report := &Report{ControllerID: t.ControllerID, StartedAt: r.Now().UTC()}

	exec, tunnelResult := r.openTunnel(ctx, t)
	if exec != nil {
		defer exec.Close()
	}

	for _, c := range checkOrder {
		start := time.Now()
		res := CheckResult{Name: c.name, Label: c.label}
		switch c.name {
		case CheckCloudComms:
			res.Status, res.Message = r.cloudComms(t)
		case CheckConfigSync:
			res.Status, res.Message = configSync(t.LastSyncState)
		case CheckSSHTunnel:
			res.Status, res.Message = tunnelResult.Status, tunnelResult.Message
		default:
			res.Status, res.Message = r.remote(ctx, exec, tunnelResult, c.name)
		}
		res.DurationMS = time.Since(start).Milliseconds()
		report.Results = append(report.Results, res)
	}

	report.Status = Rollup(report.Results)
	report.FinishedAt = r.Now().UTC()
	metrics.DiagnosticRuns.WithLabelValues(string(report.Status)).Inc()
	logging.InfoWithComponent(logging.ComponentDiagnostics, "Test suite finished",
		"controller_id", t.ControllerID, "status", report.Status)
	return report
}

func (r *Runner) openTunnel(ctx context.Context, t Target) (Executor, CheckResult) {
	if r.TunnelHost == "" || r.Dialer == nil {
		return nil, CheckResult{Status: Skipped, Message: "SSH tunnel host not configured"}
	}
	if t.SSHPort == nil {
		return nil, CheckResult{Status: Skipped, Message: "SSH tunnel not set up for this controller"}
	}
	exec, err := r.Dialer.Dial(ctx, r.TunnelHost, *t.SSHPort)
	if err != nil {
		logging.WarnWithComponent(logging.ComponentDiagnostics, "Tunnel unreachable",
			"controller_id", t.ControllerID, "port", *t.SSHPort, "error", err)
		return nil, CheckResult{Status: Failed, Message: fmt.Sprintf("Tunnel port %d unreachable: %v", *t.SSHPort, err)}
	}
	return exec, CheckResult{Status: Passed, Message: fmt.Sprintf("Reverse tunnel reachable on port %d", *t.SSHPort)}
}

func (r *Runner) cloudComms(t Target) (CheckStatus, string) {
	status := connectivity.Classify(t.LastHeartbeat, r.Now())
	if status.Online {
		return Passed, "Last heartbeat " + status.Label
	}
	if t.LastHeartbeat == nil {
		return Failed, "No heartbeat received"
	}
	return Failed, "Offline, last heartbeat " + status.Label
}

func configSync(state string) (CheckStatus, string) {
	switch state {
	case "":
		return Skipped, "Configuration never synced"
	case database.CommandSucceeded:
		return Passed, "Last configuration sync succeeded"
	case database.CommandPending, database.CommandDelivered:
		return Skipped, "Configuration sync in progress"
	default:
		return Failed, "Last configuration sync " + state
	}
}

func (r *Runner) remote(ctx context.Context, exec Executor, tunnel CheckResult, name string) (CheckStatus, string) {
	if exec == nil {
		if tunnel.Status == Failed {
			return Skipped, "Skipped, tunnel unreachable"
		}
		return Skipped, tunnel.Message
	}

	switch name {
	case CheckServiceHealth:
		out, err := exec.Run(ctx, serviceHealthCmd)
		return serviceHealth(out, err)
	case CheckDeviceReadings:
		return commandCheck(exec.Run(ctx, deviceReadingsCmd))
	case CheckControlLogic:
		return commandCheck(exec.Run(ctx, controlLogicCmd))
	case CheckOTAReadiness:
		out, err := exec.Run(ctx, otaReadinessCmd)
		return otaReadiness(out, err)
	}
	return Skipped, "Unknown check"
}

// serviceHealth expects one "active" line per unit; systemctl exits non-zero
// when any unit is inactive, so the output decides.
func serviceHealth(out string, err error) (CheckStatus, string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Failed, err.Error()
	}
	lines := strings.Fields(out)
	if len(lines) == 0 {
		if err != nil {
			return Failed, err.Error()
		}
		return Failed, "No service status returned"
	}
	inactive := 0
	for _, l := range lines {
		if l != "active" {
			inactive++
		}
	}
	if inactive > 0 {
		return Failed, fmt.Sprintf("%d of %d services not active", inactive, len(lines))
	}
	return Passed, fmt.Sprintf("All %d services active", len(lines))
}

func commandCheck(out string, err error) (CheckStatus, string) {
	msg := firstLine(out)
	if err != nil {
		if msg == "" {
			msg = err.Error()
		}
		return Failed, msg
	}
	if msg == "" {
		msg = "OK"
	}
	return Passed, msg
}

// otaReadiness parses `df -Pk` output: the fourth column is available KB.
func otaReadiness(out string, err error) (CheckStatus, string) {
	if err != nil {
		return Failed, err.Error()
	}
	fields := strings.Fields(firstLine(out))
	if len(fields) < 4 {
		return Failed, "Could not read free disk space"
	}
	avail, perr := strconv.ParseInt(fields[3], 10, 64)
	if perr != nil {
		return Failed, "Could not read free disk space"
	}
	if avail < MinFreeKB {
		return Failed, fmt.Sprintf("Only %d MB free, %d MB required", avail/1024, MinFreeKB/1024)
	}
	return Passed, fmt.Sprintf("%d MB free", avail/1024)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
