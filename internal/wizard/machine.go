package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/byosamah/volteria-sub000/internal/lifecycle"
	"github.com/byosamah/volteria-sub000/internal/logging"
)

var (
	ErrCannotProceed  = errors.New("current step is not complete")
	ErrBusy           = errors.New("a submission is already in progress")
	ErrNotRegistered  = errors.New("controller has not been registered yet")
	ErrNotOnLastStep  = errors.New("wizard can only be completed from the final step")
	ErrAlreadyDone    = errors.New("wizard already completed")
	ErrSerialEmpty    = errors.New("serial number is required")
	ErrHardwareNotSet = errors.New("hardware type is required")
)

// Form is the data collected on the hardware info step.
type Form struct {
	SerialNumber    string
	HardwareTypeID  string
	FirmwareVersion string
	Notes           string
}

// RegisterResult is the outcome of create-or-resume.
type RegisterResult struct {
	ControllerID string
	Resumed      bool
	WizardStep   int
}

// Backend persists wizard progress.
type Backend interface {
	Register(ctx context.Context, form Form) (RegisterResult, error)
	SaveStep(ctx context.Context, controllerID string, step int) error
	Complete(ctx context.Context, controllerID string, passed bool) error
}

// ProgressNotSavedError reports that the wizard advanced locally but the step
// write failed. It never blocks progress.
type ProgressNotSavedError struct {
	Step int
	Err  error
}

func (e *ProgressNotSavedError) Error() string {
	return fmt.Sprintf("step %d not saved: %v", e.Step, e.Err)
}

func (e *ProgressNotSavedError) Unwrap() error { return e.Err }

// Machine is the provisioning wizard state. Methods are safe for concurrent
// use; a second Advance, SaveAndExit or Complete while one is in flight fails
// with ErrBusy.
type Machine struct {
	backend Backend

	mu           sync.Mutex
	current      int
	completed    map[int]bool
	confirmed    bool
	controllerID string
	form         Form
	outcome      lifecycle.Status

	inFlight atomic.Bool
}

// New starts a fresh wizard at step 1.
func New(backend Backend) *Machine {
	return &Machine{
		backend:   backend,
		current:   FirstStep,
		completed: make(map[int]bool),
	}
}

// Resume reopens the wizard for an existing controller at its persisted step.
// Every lower step is marked completed.
func Resume(backend Backend, controllerID string, persistedStep int) *Machine {
	m := New(backend)
	m.controllerID = controllerID
	m.jumpTo(persistedStep)
	return m
}

func (m *Machine) jumpTo(step int) {
	m.current = clampStep(step)
	for s := FirstStep; s < m.current; s++ {
		m.completed[s] = true
	}
	m.confirmed = false
}

// Step returns the current step number.
func (m *Machine) Step() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Completed reports whether step has been completed.
func (m *Machine) Completed(step int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed[step]
}

func (m *Machine) Confirmed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed
}

func (m *Machine) ControllerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controllerID
}

// Outcome is ready or failed once the wizard is completed, empty before.
func (m *Machine) Outcome() lifecycle.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

func (m *Machine) Busy() bool {
	return m.inFlight.Load()
}

func (m *Machine) Form() Form {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.form
}

// SetForm replaces the hardware info form. Ignored once registered.
func (m *Machine) SetForm(f Form) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controllerID != "" {
		return
	}
	m.form = f
}

// Confirm sets the acknowledgement checkbox of steps 2 to 6.
func (m *Machine) Confirm(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current > FirstStep && m.current < LastStep {
		m.confirmed = v
	}
}

// HeartbeatDetected confirms the verify online step automatically.
func (m *Machine) HeartbeatDetected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == StepVerifyOnline {
		m.confirmed = true
	}
}

// CanProceed reports whether Advance would do anything.
func (m *Machine) CanProceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canProceedLocked()
}

func (m *Machine) canProceedLocked() bool {
	if m.outcome != "" {
		return false
	}
	switch {
	case m.current == FirstStep:
		if m.controllerID != "" {
			return true
		}
		return strings.TrimSpace(m.form.SerialNumber) != "" && m.form.HardwareTypeID != ""
	case m.current < LastStep:
		return m.confirmed
	default:
		return false
	}
}

// ValidateForm checks the step 1 fields without touching the backend.
func ValidateForm(f Form) error {
	if strings.TrimSpace(f.SerialNumber) == "" {
		return ErrSerialEmpty
	}
	if f.HardwareTypeID == "" {
		return ErrHardwareNotSet
	}
	return nil
}

// Advance moves to the next step. State is untouched when the current step is
// not complete. On step 1 it registers the controller (or resumes an existing
// draft); on steps 2 to 6 it persists the new step and returns a
// *ProgressNotSavedError if that write fails, after advancing anyway.
func (m *Machine) Advance(ctx context.Context) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer m.inFlight.Store(false)

	m.mu.Lock()
	if !m.canProceedLocked() {
		err := ErrCannotProceed
		if m.current == FirstStep && m.outcome == "" {
			if verr := ValidateForm(m.form); verr != nil {
				err = verr
			}
		}
		m.mu.Unlock()
		return err
	}
	step := m.current
	form := m.form
	id := m.controllerID
	m.mu.Unlock()

	if step == FirstStep && id == "" {
		return m.register(ctx, form)
	}

	m.mu.Lock()
	m.completed[step] = true
	m.current = step + 1
	m.confirmed = false
	next := m.current
	m.mu.Unlock()

	return m.persist(ctx, id, next)
}

func (m *Machine) register(ctx context.Context, form Form) error {
	res, err := m.backend.Register(ctx, form)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.controllerID = res.ControllerID
	if res.Resumed && res.WizardStep > FirstStep {
		m.jumpTo(res.WizardStep)
		m.mu.Unlock()
		logging.InfoWithComponent(logging.ComponentWizard, "Resumed existing registration",
			"controller_id", res.ControllerID, "step", res.WizardStep)
		return nil
	}
	m.completed[FirstStep] = true
	m.current = FirstStep + 1
	m.confirmed = false
	m.mu.Unlock()

	return m.persist(ctx, res.ControllerID, FirstStep+1)
}

func (m *Machine) persist(ctx context.Context, id string, step int) error {
	if err := m.backend.SaveStep(ctx, id, step); err != nil {
		logging.WarnWithComponent(logging.ComponentWizard, "Failed to save wizard progress",
			"controller_id", id, "step", step, "error", err)
		return &ProgressNotSavedError{Step: step, Err: err}
	}
	return nil
}

// Back returns to the previous step. Completed marks and persisted state stay.
func (m *Machine) Back() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcome != "" || m.current <= FirstStep {
		return
	}
	m.current--
	m.confirmed = false
}

// SaveAndExit persists the current step so the wizard can be resumed later.
func (m *Machine) SaveAndExit(ctx context.Context) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer m.inFlight.Store(false)

	m.mu.Lock()
	id, step, done := m.controllerID, m.current, m.outcome != ""
	m.mu.Unlock()

	if done {
		return ErrAlreadyDone
	}
	if id == "" {
		return ErrNotRegistered
	}
	return m.backend.SaveStep(ctx, id, step)
}

// Complete finishes the wizard from the final step. The controller becomes
// ready when passed, failed otherwise, and its wizard step is cleared.
func (m *Machine) Complete(ctx context.Context, passed bool) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer m.inFlight.Store(false)

	m.mu.Lock()
	id, step, done := m.controllerID, m.current, m.outcome != ""
	m.mu.Unlock()

	switch {
	case done:
		return ErrAlreadyDone
	case id == "":
		return ErrNotRegistered
	case step != LastStep:
		return ErrNotOnLastStep
	}

	if err := m.backend.Complete(ctx, id, passed); err != nil {
		return err
	}

	m.mu.Lock()
	m.completed[LastStep] = true
	m.outcome = lifecycle.WizardOutcome(passed)
	m.mu.Unlock()

	logging.InfoWithComponent(logging.ComponentWizard, "Wizard completed", "controller_id", id, "status", string(lifecycle.WizardOutcome(passed)))
	return nil
}
