// Package lifecycle holds the controller status model and its allowed moves.
package lifecycle

import "fmt"

// Status is the persisted lifecycle state of a controller.
type Status string

const (
	Draft       Status = "draft"
	Ready       Status = "ready"
	Failed      Status = "failed"
	Claimed     Status = "claimed"
	Deployed    Status = "deployed"
	Deactivated Status = "deactivated"
	EOL         Status = "eol"
)

// All lists every status in lifecycle order.
var All = []Status{Draft, Ready, Failed, Claimed, Deployed, Deactivated, EOL}

var transitions = map[Status][]Status{
	Draft:       {Ready, Failed, Deactivated},
	Failed:      {Draft, Deactivated},
	Ready:       {Claimed, Deactivated},
	Claimed:     {Deployed, Ready, Deactivated},
	Deployed:    {Claimed, Deactivated},
	Deactivated: {Ready, EOL},
	EOL:         nil,
}

// Parse validates s as a known status.
func Parse(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown controller status %q", s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a controller may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// WizardOutcome maps the final test run to the terminal wizard status.
func WizardOutcome(passed bool) Status {
	if passed {
		return Ready
	}
	return Failed
}

// IsWizardTerminal reports whether s ends a wizard run (wizard_step must be cleared).
func IsWizardTerminal(s Status) bool {
	return s == Ready || s == Failed
}
