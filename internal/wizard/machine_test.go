package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byosamah/volteria-sub000/internal/lifecycle"
)

type fakeBackend struct {
	mu        sync.Mutex
	register  RegisterResult
	regErr    error
	saveErr   error
	saved     []int
	completed []bool
	regCalls  int
	block     chan struct{}
}

func (f *fakeBackend) Register(ctx context.Context, form Form) (RegisterResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regCalls++
	return f.register, f.regErr
}

func (f *fakeBackend) SaveStep(ctx context.Context, id string, step int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, step)
	return f.saveErr
}

func (f *fakeBackend) Complete(ctx context.Context, id string, passed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, passed)
	return nil
}

func validForm() Form {
	return Form{SerialNumber: "VT-0001", HardwareTypeID: "rpi5"}
}

func TestStepOneValidatesLocally(t *testing.T) {
	backend := &fakeBackend{}
	m := New(backend)

	assert.ErrorIs(t, m.Advance(context.Background()), ErrSerialEmpty)
	m.SetForm(Form{SerialNumber: "VT-1"})
	assert.ErrorIs(t, m.Advance(context.Background()), ErrHardwareNotSet)
	assert.Zero(t, backend.regCalls, "validation must not reach the backend")
	assert.Equal(t, StepHardwareInfo, m.Step())
}

func TestAdvanceRegistersAndPersists(t *testing.T) {
	backend := &fakeBackend{register: RegisterResult{ControllerID: "c1", WizardStep: 1}}
	m := New(backend)
	m.SetForm(validForm())

	require.NoError(t, m.Advance(context.Background()))
	assert.Equal(t, StepFlashImage, m.Step())
	assert.Equal(t, "c1", m.ControllerID())
	assert.True(t, m.Completed(StepHardwareInfo))
	assert.Equal(t, []int{2}, backend.saved)
}

func TestRegisterResumeJumpsToPersistedStep(t *testing.T) {
	backend := &fakeBackend{register: RegisterResult{ControllerID: "c9", Resumed: true, WizardStep: 4}}
	m := New(backend)
	m.SetForm(validForm())

	require.NoError(t, m.Advance(context.Background()))
	assert.Equal(t, StepNetworkSetup, m.Step())
	assert.Equal(t, "c9", m.ControllerID())
	for s := FirstStep; s < 4; s++ {
		assert.True(t, m.Completed(s), "step %d", s)
	}
	assert.Empty(t, backend.saved)
}

func TestStepGateIsNoOp(t *testing.T) {
	backend := &fakeBackend{}
	m := Resume(backend, "c1", StepSoftwareSetup)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, m.Advance(context.Background()), ErrCannotProceed)
	}
	assert.Equal(t, StepSoftwareSetup, m.Step())
	assert.False(t, m.Completed(StepSoftwareSetup))
	assert.Empty(t, backend.saved)

	m.Confirm(true)
	require.NoError(t, m.Advance(context.Background()))
	assert.Equal(t, StepNetworkSetup, m.Step())
	assert.False(t, m.Confirmed(), "confirmation resets on each step")
}

func TestResumeMarksLowerStepsCompleted(t *testing.T) {
	m := Resume(&fakeBackend{}, "c1", StepVerifyOnline)
	assert.Equal(t, StepVerifyOnline, m.Step())
	for s := FirstStep; s < StepVerifyOnline; s++ {
		assert.True(t, m.Completed(s))
	}
	assert.False(t, m.Completed(StepVerifyOnline))
}

func TestSaveFailureDoesNotBlock(t *testing.T) {
	backend := &fakeBackend{saveErr: errors.New("network down")}
	m := Resume(backend, "c1", StepFlashImage)
	m.Confirm(true)

	err := m.Advance(context.Background())
	var notSaved *ProgressNotSavedError
	require.ErrorAs(t, err, &notSaved)
	assert.Equal(t, StepSoftwareSetup, notSaved.Step)
	assert.Equal(t, StepSoftwareSetup, m.Step())
}

func TestBackKeepsCompletion(t *testing.T) {
	m := Resume(&fakeBackend{}, "c1", StepNetworkSetup)
	m.Confirm(true)
	m.Back()
	assert.Equal(t, StepSoftwareSetup, m.Step())
	assert.False(t, m.Confirmed())
	assert.True(t, m.Completed(StepSoftwareSetup))

	first := New(&fakeBackend{})
	first.Back()
	assert.Equal(t, StepHardwareInfo, first.Step())
}

func TestHeartbeatDetectedOnlyOnVerifyStep(t *testing.T) {
	m := Resume(&fakeBackend{}, "c1", StepCloudConnection)
	m.HeartbeatDetected()
	assert.False(t, m.Confirmed())

	m = Resume(&fakeBackend{}, "c1", StepVerifyOnline)
	m.HeartbeatDetected()
	assert.True(t, m.CanProceed())
}

func TestFinalStepCannotAdvance(t *testing.T) {
	m := Resume(&fakeBackend{}, "c1", StepRunTests)
	m.Confirm(true)
	assert.False(t, m.CanProceed())
	assert.ErrorIs(t, m.Advance(context.Background()), ErrCannotProceed)
}

func TestCompleteSetsOutcome(t *testing.T) {
	for _, passed := range []bool{true, false} {
		backend := &fakeBackend{}
		m := Resume(backend, "c1", StepRunTests)

		require.NoError(t, m.Complete(context.Background(), passed))
		assert.Equal(t, lifecycle.WizardOutcome(passed), m.Outcome())
		assert.Equal(t, []bool{passed}, backend.completed)
		assert.ErrorIs(t, m.Complete(context.Background(), passed), ErrAlreadyDone)
	}
}

func TestCompleteRequiresLastStep(t *testing.T) {
	m := Resume(&fakeBackend{}, "c1", StepVerifyOnline)
	assert.ErrorIs(t, m.Complete(context.Background(), true), ErrNotOnLastStep)
	assert.ErrorIs(t, New(&fakeBackend{}).Complete(context.Background(), true), ErrNotRegistered)
}

func TestSaveAndExit(t *testing.T) {
	backend := &fakeBackend{}
	assert.ErrorIs(t, New(backend).SaveAndExit(context.Background()), ErrNotRegistered)

	m := Resume(backend, "c1", StepNetworkSetup)
	require.NoError(t, m.SaveAndExit(context.Background()))
	assert.Equal(t, []int{StepNetworkSetup}, backend.saved)
}

func TestConcurrentAdvanceIsSingleFlight(t *testing.T) {
	backend := &fakeBackend{
		register: RegisterResult{ControllerID: "c1", WizardStep: 1},
		block:    make(chan struct{}),
	}
	m := New(backend)
	m.SetForm(validForm())

	done := make(chan error, 1)
	go func() { done <- m.Advance(context.Background()) }()

	require.Eventually(t, m.Busy, time.Second, time.Millisecond)
	assert.ErrorIs(t, m.Advance(context.Background()), ErrBusy)

	close(backend.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, backend.regCalls)
	assert.Equal(t, StepFlashImage, m.Step())
}
