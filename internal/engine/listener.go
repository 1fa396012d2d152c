package engine

// Listener receives every transition fired by a StateMachine (spec.md
// §4.E "Listener contract"). Implementations must not call Fire
// synchronously on the instance that invoked them; they may schedule
// deferred work instead.
type Listener func(msg *Message, from, to State, event Event, ctx map[string]interface{})

// TransitionResult is returned by every StateMachine.Fire call; no
// exception ever escapes Fire (spec.md §7) — every outcome, including
// internal errors, is represented as one of the three constructors
// below.
type TransitionResult struct {
	Success      bool
	FromState    State
	ToState      State
	Event        Event
	ErrorMessage string
}

// SuccessResult constructs a successful TransitionResult.
func SuccessResult(from, to State, event Event) TransitionResult {
	return TransitionResult{Success: true, FromState: from, ToState: to, Event: event}
}

// InvalidResult constructs a TransitionResult for an (state, event) pair
// rejected by the TransitionTable, or a guard that rejected it with no
// Else state. The message's state is left unchanged.
func InvalidResult(from State, event Event) TransitionResult {
	return TransitionResult{Success: false, FromState: from, ToState: from, Event: event}
}

// ErrorResult constructs a TransitionResult for pre/post-transition work
// that returned an error; the machine's state is unchanged.
func ErrorResult(from State, event Event, err error) TransitionResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return TransitionResult{Success: false, FromState: from, ToState: from, Event: event, ErrorMessage: msg}
}

// Outcome is the terminal-state classification surfaced to submitters
// (spec.md §4.G).
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeError     Outcome = "ERROR"
)

// ProcessingResult is the outcome surfaced to a submitter once a
// message reaches a terminal state, or once the submitter's own polling
// deadline elapses.
type ProcessingResult struct {
	MessageID string
	Outcome   Outcome
	State     State
	Cause     string
}

// outcomeForTerminalState implements spec.md §4.G's state → outcome
// mapping.
func outcomeForTerminalState(s State) (Outcome, string) {
	switch s {
	case StateConfirmed:
		return OutcomeSuccess, ""
	case StateDuplicate:
		return OutcomeDuplicate, ""
	case StateDeadLetter:
		return OutcomeFailed, "Message dead-lettered"
	case StateExpired:
		return OutcomeFailed, "Message expired"
	case StateCancelled:
		return OutcomeFailed, "Message cancelled"
	case StateTimeout:
		return OutcomeFailed, "Message timed out"
	default:
		return OutcomeError, "Unknown terminal state"
	}
}
