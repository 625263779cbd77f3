package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/byosamah/volteria-sub000/internal/client"
	"github.com/byosamah/volteria-sub000/internal/diagnostics"
	"github.com/byosamah/volteria-sub000/internal/lifecycle"
	"github.com/byosamah/volteria-sub000/internal/logging"
	"github.com/byosamah/volteria-sub000/internal/wizard"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Register and provision a controller step by step",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		c, err := connect(ctx)
		if err != nil {
			return err
		}

		var m provisionModel
		resumeID, _ := cmd.Flags().GetString("resume")
		if resumeID != "" {
			id, err := client.ParseID(resumeID)
			if err != nil {
				return err
			}
			ctrl, err := c.GetController(ctx, id)
			if err != nil {
				return err
			}
			if ctrl.Status != string(lifecycle.Draft) || ctrl.WizardStep == nil {
				return fmt.Errorf("controller %s is %s and has no wizard in progress", ctrl.SerialNumber, ctrl.Status)
			}
			m = newProvisionModel(ctx, c, wizard.Resume(c, ctrl.ID, *ctrl.WizardStep), newStyles(theme))
			m.inputs[fieldSerial].SetValue(ctrl.SerialNumber)
			m.inputs[fieldHardware].SetValue(ctrl.HardwareTypeID)
			m.inputs[fieldFirmware].SetValue(ctrl.FirmwareVersion)
		} else {
			m = newProvisionModel(ctx, c, wizard.New(c), newStyles(theme))
		}

		final, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
		if err != nil {
			return err
		}
		if pm, ok := final.(provisionModel); ok && pm.exitNote != "" {
			fmt.Fprintln(cmd.OutOrStdout(), pm.exitNote)
		}
		return nil
	},
}

// provisionBackend is everything the provisioning screens need from the console.
type provisionBackend interface {
	wizard.Backend
	wizard.HeartbeatLookup
	RunTests(ctx context.Context, controllerID string) (*diagnostics.Report, error)
	HardwareTypes(ctx context.Context) ([]client.HardwareType, error)
}

const (
	fieldSerial = iota
	fieldHardware
	fieldFirmware
	fieldNotes
	fieldCount
)

type (
	advancedMsg  struct{ err error }
	savedMsg     struct{ err error }
	completedMsg struct{ err error }
	verifiedMsg  struct {
		outcome wizard.VerifyOutcome
		at      *time.Time
		err     error
	}
	testedMsg struct {
		report *diagnostics.Report
		err    error
	}
	hardwareMsg struct {
		types []client.HardwareType
		err   error
	}
)

type provisionModel struct {
	ctx     context.Context
	backend provisionBackend
	machine *wizard.Machine
	styles  styles
	spinner spinner.Model

	inputs   [fieldCount]textinput.Model
	focus    int
	hardware []client.HardwareType

	verifying bool
	verify    wizard.VerifyOutcome
	testing   bool
	report    *diagnostics.Report

	warning  string
	err      error
	exitNote string
}

func newProvisionModel(ctx context.Context, b provisionBackend, machine *wizard.Machine, st styles) provisionModel {
	m := provisionModel{
		ctx:     ctx,
		backend: b,
		machine: machine,
		styles:  st,
		spinner: spinner.New(),
	}
	m.spinner.Spinner = spinner.Dot
	m.spinner.Style = st.Title

	placeholders := [fieldCount]string{"VT-2024-0001", "rpi5", "1.4.2 (optional)", "(optional)"}
	for i := range m.inputs {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 128
		if i == fieldNotes {
			ti.CharLimit = 500
		}
		m.inputs[i] = ti
	}
	m.inputs[fieldSerial].Focus()
	return m
}

func (m provisionModel) busy() bool {
	return m.machine.Busy() || m.verifying || m.testing
}

func (m provisionModel) form() wizard.Form {
	return wizard.Form{
		SerialNumber:    strings.TrimSpace(m.inputs[fieldSerial].Value()),
		HardwareTypeID:  strings.TrimSpace(m.inputs[fieldHardware].Value()),
		FirmwareVersion: strings.TrimSpace(m.inputs[fieldFirmware].Value()),
		Notes:           strings.TrimSpace(m.inputs[fieldNotes].Value()),
	}
}

func (m provisionModel) loadHardware() tea.Cmd {
	return func() tea.Msg {
		types, err := m.backend.HardwareTypes(m.ctx)
		return hardwareMsg{types: types, err: err}
	}
}

func (m provisionModel) advance() tea.Cmd {
	return func() tea.Msg { return advancedMsg{err: m.machine.Advance(m.ctx)} }
}

func (m provisionModel) saveAndExit() tea.Cmd {
	return func() tea.Msg { return savedMsg{err: m.machine.SaveAndExit(m.ctx)} }
}

func (m provisionModel) complete(passed bool) tea.Cmd {
	return func() tea.Msg { return completedMsg{err: m.machine.Complete(m.ctx, passed)} }
}

func (m provisionModel) waitOnline() tea.Cmd {
	id := m.machine.ControllerID()
	return func() tea.Msg {
		outcome, at, err := wizard.NewVerifier(m.backend).Wait(m.ctx, id)
		return verifiedMsg{outcome: outcome, at: at, err: err}
	}
}

func (m provisionModel) runTests() tea.Cmd {
	id := m.machine.ControllerID()
	return func() tea.Msg {
		report, err := m.backend.RunTests(m.ctx, id)
		return testedMsg{report: report, err: err}
	}
}

// enterStep starts whatever the current step runs on its own.
func (m provisionModel) enterStep() (provisionModel, tea.Cmd) {
	if m.machine.Step() == wizard.StepVerifyOnline && !m.machine.Confirmed() && !m.verifying {
		m.verifying = true
		m.verify = ""
		return m, tea.Batch(m.spinner.Tick, m.waitOnline())
	}
	return m, nil
}

func (m provisionModel) Init() tea.Cmd {
	if m.machine.Step() == wizard.StepHardwareInfo {
		return tea.Batch(textinput.Blink, m.loadHardware())
	}
	_, cmd := m.enterStep()
	return cmd
}

func (m provisionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case hardwareMsg:
		if msg.err != nil {
			logging.WarnWithComponent(logging.ComponentCLI, "Could not load hardware types", "error", msg.err)
			return m, nil
		}
		m.hardware = msg.types
		return m, nil

	case advancedMsg:
		m.setResult(msg.err)
		if m.machine.Step() != wizard.StepHardwareInfo {
			for i := range m.inputs {
				m.inputs[i].Blur()
			}
		}
		return m.enterStep()

	case savedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.exitNote = fmt.Sprintf("Progress saved at step %d. Resume with: fleetctl provision --resume %s",
			m.machine.Step(), m.machine.ControllerID())
		return m, tea.Quit

	case verifiedMsg:
		m.verifying = false
		if msg.err != nil {
			if !errors.Is(msg.err, context.Canceled) {
				m.err = msg.err
			}
			return m, nil
		}
		m.verify = msg.outcome
		if msg.outcome == wizard.VerifyOnline {
			m.machine.HeartbeatDetected()
		}
		return m, nil

	case testedMsg:
		m.testing = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.report = msg.report
		m.err = nil
		return m, nil

	case completedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.exitNote = fmt.Sprintf("Controller %s is now %s", m.form().SerialNumber, m.machine.Outcome())
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// setResult records the outcome of Advance. A step that moved but was not
// saved is a warning, not a failure.
func (m *provisionModel) setResult(err error) {
	m.warning = ""
	m.err = nil
	var notSaved *wizard.ProgressNotSavedError
	switch {
	case err == nil:
	case errors.As(err, &notSaved):
		m.warning = "Progress not saved: " + notSaved.Err.Error()
	default:
		m.err = err
	}
}

func (m provisionModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "esc" {
		return m, tea.Quit
	}
	if m.machine.Outcome() != "" {
		if key == "q" || key == "enter" {
			return m, tea.Quit
		}
		return m, nil
	}
	if m.machine.Busy() || m.testing {
		return m, nil
	}

	step := m.machine.Step()
	if step == wizard.StepHardwareInfo && m.machine.ControllerID() == "" {
		return m.handleFormKey(msg)
	}

	switch key {
	case "q":
		return m, tea.Quit
	case "b":
		m.machine.Back()
		m.verify = ""
		return m, nil
	case "s":
		return m, m.saveAndExit()
	case " ":
		if step > wizard.StepHardwareInfo && step < wizard.StepVerifyOnline {
			m.machine.Confirm(!m.machine.Confirmed())
		}
		return m, nil
	case "v":
		if step == wizard.StepVerifyOnline && !m.machine.Confirmed() {
			return m.enterStep()
		}
		return m, nil
	case "enter":
		if step == wizard.StepRunTests {
			if m.report == nil {
				m.testing = true
				return m, tea.Batch(m.spinner.Tick, m.runTests())
			}
			return m, m.complete(m.report.Passed())
		}
		return m, m.advance()
	case "t":
		if step == wizard.StepRunTests {
			m.report = nil
			m.testing = true
			return m, tea.Batch(m.spinner.Tick, m.runTests())
		}
	}
	return m, nil
}

func (m provisionModel) handleFormKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "down":
		m.focusField((m.focus + 1) % fieldCount)
		return m, nil
	case "shift+tab", "up":
		m.focusField((m.focus + fieldCount - 1) % fieldCount)
		return m, nil
	case "enter":
		m.machine.SetForm(m.form())
		return m, m.advance()
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *provisionModel) focusField(i int) {
	m.inputs[m.focus].Blur()
	m.focus = i
	m.inputs[i].Focus()
}

func (m provisionModel) View() string {
	s := m.styles
	var b strings.Builder

	b.WriteString(s.Title.Render("Provision controller") + "\n")
	b.WriteString(m.progressBar() + "\n\n")

	step := m.machine.Step()
	info := wizard.Info(step)
	fmt.Fprintf(&b, "%s\n\n", s.Header.Render(fmt.Sprintf("Step %d of %d: %s", step, wizard.LastStep, info.Title)))

	switch step {
	case wizard.StepHardwareInfo:
		b.WriteString(m.formView())
	case wizard.StepVerifyOnline:
		switch {
		case m.machine.Confirmed():
			b.WriteString(s.Success.Render("✓ "+info.Confirm) + "\n")
		case m.verifying:
			b.WriteString(m.spinner.View() + " Waiting for the first heartbeat...\n")
		case m.verify == wizard.VerifyTimeout:
			b.WriteString(s.Warning.Render("No heartbeat within 5 minutes. Check power and network, then press v to retry.") + "\n")
		}
	case wizard.StepRunTests:
		switch {
		case m.testing:
			b.WriteString(m.spinner.View() + " Running diagnostics...\n")
		case m.report != nil:
			b.WriteString(renderReport(s, m.report) + "\n")
		default:
			b.WriteString("Press enter to run the diagnostics suite.\n")
		}
	default:
		box := "[ ]"
		if m.machine.Confirmed() {
			box = s.Selected.Render("[x]")
		}
		fmt.Fprintf(&b, "%s %s\n", box, info.Confirm)
	}

	if m.warning != "" {
		b.WriteString("\n" + s.Warning.Render(m.warning) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + s.Error.Render(m.err.Error()) + "\n")
	}
	if m.exitNote != "" {
		b.WriteString("\n" + s.Success.Render(m.exitNote) + "\n")
	}
	b.WriteString(s.Help.Render(m.help()))
	return b.String()
}

func (m provisionModel) progressBar() string {
	parts := make([]string, 0, wizard.LastStep)
	for _, st := range wizard.Steps() {
		label := fmt.Sprintf("%d", st.Number)
		switch {
		case st.Number == m.machine.Step():
			label = m.styles.Selected.Render("[" + label + "]")
		case m.machine.Completed(st.Number):
			label = m.styles.Success.Render("✓")
		default:
			label = m.styles.Subtitle.Render(label)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, " ─ ")
}

func (m provisionModel) formView() string {
	labels := [fieldCount]string{"Serial number", "Hardware type", "Firmware", "Notes"}
	var b strings.Builder
	registered := m.machine.ControllerID() != ""
	for i := range m.inputs {
		if registered {
			fmt.Fprintf(&b, "%-14s %s\n", labels[i], orDash(m.inputs[i].Value()))
			continue
		}
		fmt.Fprintf(&b, "%-14s %s\n", labels[i], m.inputs[i].View())
	}
	if !registered && len(m.hardware) > 0 {
		ids := make([]string, len(m.hardware))
		for i, h := range m.hardware {
			ids[i] = h.ID
		}
		b.WriteString(m.styles.Subtitle.Render("Hardware types: "+strings.Join(ids, ", ")) + "\n")
	}
	if m.machine.Busy() {
		b.WriteString(m.spinner.View() + " Registering...\n")
	}
	return b.String()
}

func (m provisionModel) help() string {
	if m.machine.Outcome() != "" {
		return "enter/q exit"
	}
	step := m.machine.Step()
	switch {
	case step == wizard.StepHardwareInfo && m.machine.ControllerID() == "":
		return "tab next field • enter register • esc quit"
	case step == wizard.StepHardwareInfo:
		return "enter next • s save & exit • q quit"
	case step == wizard.StepVerifyOnline:
		return "v retry • enter next • b back • s save & exit • q quit"
	case step == wizard.StepRunTests:
		if m.report != nil {
			return "enter finish • t rerun • b back • s save & exit • q quit"
		}
		return "enter run tests • b back • s save & exit • q quit"
	default:
		return "space toggle • enter next • b back • s save & exit • q quit"
	}
}
