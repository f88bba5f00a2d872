package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// State is the lifecycle state of a conversation
type State string

const (
	Collecting           State = "collecting"
	Incomplete           State = "incomplete"
	AwaitingConfirmation State = "awaiting_confirmation"
	Processing           State = "processing"
	Approved             State = "approved"
	Rejected             State = "rejected"
	Failed               State = "failed"
	CancelledByUser      State = "cancelled_by_user"
	Expired              State = "expired"
)

// ErrInvalidTransition is returned for every transition the table does not allow
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError carries the offending pair
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var transitions = map[State][]State{
	Collecting:           {Incomplete, AwaitingConfirmation, Expired},
	Incomplete:           {Incomplete, AwaitingConfirmation, CancelledByUser, Expired},
	AwaitingConfirmation: {Processing, CancelledByUser, Expired},
	Processing:           {Approved, Rejected, Failed},
	Approved:             nil,
	Rejected:             nil,
	Failed:               nil,
	CancelledByUser:      nil,
	Expired:              nil,
}

// ParseState validates a state name
func ParseState(s string) (State, error) {
	st := State(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown conversation state %q", s)
	}
	return st, nil
}

// IsKnown reports whether s is one of the enumerated states
func (s State) IsKnown() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no outbound transition exists from s.
// Processing counts as terminal for collection purposes: it only moves on
// through the issuance outcome.
func (s State) IsTerminal() bool {
	switch s {
	case Processing, Approved, Rejected, Failed, CancelledByUser, Expired:
		return true
	}
	return false
}

// IsValidTransition is a pure lookup in the transition table
func IsValidTransition(from, to State) bool {
	if !to.IsKnown() {
		return false
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition returns to when the move is legal, or a *TransitionError
func Transition(from, to State) (State, error) {
	if !IsValidTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// TerminalStates lists the states collection never resumes from
func TerminalStates() []State {
	return []State{Processing, Approved, Rejected, Failed, CancelledByUser, Expired}
}

// ActiveStates lists the states in which a session is still collecting data
func ActiveStates() []State {
	return []State{Collecting, Incomplete, AwaitingConfirmation}
}

// AllStates lists every enumerated state
func AllStates() []State {
	return append(ActiveStates(), TerminalStates()...)
}

// UnmarshalJSON rejects unknown state names
func (s *State) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
