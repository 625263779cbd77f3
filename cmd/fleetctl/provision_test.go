package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byosamah/volteria-sub000/internal/client"
	"github.com/byosamah/volteria-sub000/internal/diagnostics"
	"github.com/byosamah/volteria-sub000/internal/lifecycle"
	"github.com/byosamah/volteria-sub000/internal/wizard"
)

type fakeBackend struct {
	saved     []int
	saveErr   error
	completed []bool
	report    *diagnostics.Report
}

func (f *fakeBackend) Register(ctx context.Context, form wizard.Form) (wizard.RegisterResult, error) {
	return wizard.RegisterResult{ControllerID: "c1"}, nil
}

func (f *fakeBackend) SaveStep(ctx context.Context, id string, step int) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, step)
	return nil
}

func (f *fakeBackend) Complete(ctx context.Context, id string, passed bool) error {
	f.completed = append(f.completed, passed)
	return nil
}

func (f *fakeBackend) LatestHeartbeat(ctx context.Context, id string) (*time.Time, error) {
	now := time.Now()
	return &now, nil
}

func (f *fakeBackend) RunTests(ctx context.Context, id string) (*diagnostics.Report, error) {
	return f.report, nil
}

func (f *fakeBackend) HardwareTypes(ctx context.Context) ([]client.HardwareType, error) {
	return []client.HardwareType{{ID: "rpi5", Name: "Raspberry Pi 5"}}, nil
}

var (
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keySpace = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
)

// press feeds a key and runs the resulting commands one level deep.
func press(t *testing.T, m provisionModel, key tea.KeyMsg) provisionModel {
	t.Helper()
	next, cmd := m.Update(key)
	m = next.(provisionModel)
	if cmd == nil {
		return m
	}
	msg := cmd()
	cmds := []tea.Cmd{func() tea.Msg { return msg }}
	if batch, ok := msg.(tea.BatchMsg); ok {
		cmds = batch
	}
	for _, c := range cmds {
		if c == nil {
			continue
		}
		if out := c(); out != nil {
			next, _ = m.Update(out)
			m = next.(provisionModel)
		}
	}
	return m
}

func TestProvisionConfirmAndAdvance(t *testing.T) {
	b := &fakeBackend{}
	m := newProvisionModel(context.Background(), b, wizard.Resume(b, "c1", wizard.StepFlashImage), newStyles("minimal"))

	m = press(t, m, keyEnter)
	require.Error(t, m.err)
	assert.Equal(t, wizard.StepFlashImage, m.machine.Step())

	m = press(t, m, keySpace)
	assert.True(t, m.machine.Confirmed())
	m = press(t, m, keyEnter)
	assert.NoError(t, m.err)
	assert.Equal(t, wizard.StepSoftwareSetup, m.machine.Step())
	assert.Equal(t, []int{wizard.StepSoftwareSetup}, b.saved)
	assert.Contains(t, m.View(), "Software Setup")
}

func TestProvisionUnsavedProgressIsWarning(t *testing.T) {
	b := &fakeBackend{saveErr: errors.New("connection reset")}
	m := newProvisionModel(context.Background(), b, wizard.Resume(b, "c1", wizard.StepNetworkSetup), newStyles("dark"))

	m = press(t, m, keySpace)
	m = press(t, m, keyEnter)
	assert.NoError(t, m.err)
	assert.Contains(t, m.warning, "connection reset")
	assert.Equal(t, wizard.StepCloudConnection, m.machine.Step())
}

func TestProvisionRunTestsAndComplete(t *testing.T) {
	b := &fakeBackend{report: &diagnostics.Report{
		Status: diagnostics.Failed,
		Results: []diagnostics.CheckResult{
			{Name: diagnostics.CheckServiceHealth, Label: "Service health", Status: diagnostics.Passed},
			{Name: diagnostics.CheckSSHTunnel, Label: "SSH tunnel", Status: diagnostics.Failed, Message: "dial timeout"},
		},
	}}
	m := newProvisionModel(context.Background(), b, wizard.Resume(b, "c1", wizard.StepRunTests), newStyles("light"))

	m = press(t, m, keyEnter)
	require.NotNil(t, m.report)
	assert.Contains(t, m.View(), "dial timeout")

	m = press(t, m, keyEnter)
	assert.Equal(t, []bool{false}, b.completed)
	assert.Equal(t, lifecycle.Failed, m.machine.Outcome())
	assert.Contains(t, m.exitNote, "failed")
}

func TestProvisionVerifyDetectsHeartbeat(t *testing.T) {
	b := &fakeBackend{}
	m := newProvisionModel(context.Background(), b, wizard.Resume(b, "c1", wizard.StepVerifyOnline), newStyles("dark"))

	m, _ = m.enterStep()
	require.True(t, m.verifying)
	next, _ := m.Update(m.waitOnline()())
	m = next.(provisionModel)

	assert.False(t, m.verifying)
	assert.True(t, m.machine.Confirmed())
	m = press(t, m, keyEnter)
	assert.Equal(t, wizard.StepRunTests, m.machine.Step())
}

func TestRenderReport(t *testing.T) {
	st := newStyles("minimal")
	out := renderReport(st, &diagnostics.Report{
		Status:  diagnostics.Passed,
		Results: []diagnostics.CheckResult{{Label: "OTA readiness", Status: diagnostics.Skipped, Message: "no tunnel"}},
	})
	assert.Contains(t, out, "SKIP")
	assert.Contains(t, out, "OTA readiness")
	assert.Contains(t, out, "All checks passed")
}
