// Package diagnostics runs the controller test suite used by the last
// provisioning step and by operators afterwards.
package diagnostics

import "time"

type CheckStatus string

const (
	Passed  CheckStatus = "passed"
	Failed  CheckStatus = "failed"
	Skipped CheckStatus = "skipped"
)

// Check names, in execution order.
const (
	CheckServiceHealth  = "service_health"
	CheckCloudComms     = "cloud_comms"
	CheckConfigSync     = "config_sync"
	CheckSSHTunnel      = "ssh_tunnel"
	CheckDeviceReadings = "device_readings"
	CheckControlLogic   = "control_logic"
	CheckOTAReadiness   = "ota_readiness"
)

var checkOrder = []struct{ name, label string }{
	{CheckServiceHealth, "Service health"},
	{CheckCloudComms, "Cloud communication"},
	{CheckConfigSync, "Configuration sync"},
	{CheckSSHTunnel, "SSH tunnel"},
	{CheckDeviceReadings, "Device readings"},
	{CheckControlLogic, "Control logic"},
	{CheckOTAReadiness, "OTA readiness"},
}

// CheckNames lists every check in the order it runs.
func CheckNames() []string {
	names := make([]string, len(checkOrder))
	for i, c := range checkOrder {
		names[i] = c.name
	}
	return names
}

type CheckResult struct {
	Name       string      `json:"name"`
	Label      string      `json:"label"`
	Status     CheckStatus `json:"status"`
	Message    string      `json:"message"`
	DurationMS int64       `json:"duration_ms"`
}

// Report is what gets stored in controllers.test_results.
type Report struct {
	ControllerID string        `json:"controller_id"`
	Status       CheckStatus   `json:"status"`
	Results      []CheckResult `json:"results"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// Passed reports whether the suite may mark the controller ready.
func (r *Report) Passed() bool { return r.Status == Passed }

// Rollup is failed when any check failed; skipped checks count as passed.
func Rollup(results []CheckResult) CheckStatus {
	for _, r := range results {
		if r.Status == Failed {
			return Failed
		}
	}
	return Passed
}
