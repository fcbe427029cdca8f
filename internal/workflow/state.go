package workflow

import "fmt"

// State is a node of the login-verification state machine. The sequence is
// linear; any failure moves to Failed.
type State int

const (
	Start State = iota
	DashboardLoaded
	LoginPageLoaded
	CredentialsEntered
	Submitted
	AuthenticatedViewVisible
	Failed
)

var stateNames = [...]string{
	Start:                    "Start",
	DashboardLoaded:          "DashboardLoaded",
	LoginPageLoaded:          "LoginPageLoaded",
	CredentialsEntered:       "CredentialsEntered",
	Submitted:                "Submitted",
	AuthenticatedViewVisible: "AuthenticatedViewVisible",
	Failed:                   "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions leave s.
func (s State) Terminal() bool {
	return s == AuthenticatedViewVisible || s == Failed
}

// Transition is one edge of the state machine.
type Transition struct {
	From State
	To   State
}

func (t Transition) String() string {
	return t.From.String() + " -> " + t.To.String()
}
