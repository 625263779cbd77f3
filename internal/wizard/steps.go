// Package wizard drives controller provisioning through its seven steps.
package wizard

// Step numbers, in order.
const (
	StepHardwareInfo = iota + 1
	StepFlashImage
	StepSoftwareSetup
	StepNetworkSetup
	StepCloudConnection
	StepVerifyOnline
	StepRunTests
)

// FirstStep and LastStep bound the persisted wizard_step column.
const (
	FirstStep = StepHardwareInfo
	LastStep  = StepRunTests
)

// StepInfo describes a step for display.
type StepInfo struct {
	Number  int
	Title   string
	Confirm string
}

var steps = []StepInfo{
	{StepHardwareInfo, "Hardware Info", ""},
	{StepFlashImage, "Flash Image", "I have flashed the image to the SD card"},
	{StepSoftwareSetup, "Software Setup", "I have run the setup script on the controller"},
	{StepNetworkSetup, "Network Setup", "The controller is connected to the network"},
	{StepCloudConnection, "Cloud Connection", "I have downloaded and installed the cloud config"},
	{StepVerifyOnline, "Verify Online", "Heartbeat received from the controller"},
	{StepRunTests, "Run Tests", ""},
}

// Steps returns all steps in order.
func Steps() []StepInfo {
	out := make([]StepInfo, len(steps))
	copy(out, steps)
	return out
}

// Info returns the description of step n. Out of range values are clamped.
func Info(n int) StepInfo {
	return steps[clampStep(n)-1]
}

// ValidStep reports whether n is a persistable wizard step.
func ValidStep(n int) bool {
	return n >= FirstStep && n <= LastStep
}

func clampStep(n int) int {
	if n < FirstStep {
		return FirstStep
	}
	if n > LastStep {
		return LastStep
	}
	return n
}
