package session

// State is a step of the per-connection state machine:
//
//	Accepted -> Authenticating -> Authenticated | Rejected
//	Authenticated -> ResponseSent | Failed
//	(any) -> Closed
type State int

const (
	StateAccepted State = iota
	StateAuthenticating
	StateAuthenticated
	StateRejected
	StateResponseSent
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	case StateResponseSent:
		return "response_sent"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of a session.
type Outcome int

const (
	// OutcomeRejected: the handshake failed and no response was sent.
	OutcomeRejected Outcome = iota

	// OutcomeSucceeded: a status 0 response was delivered.
	OutcomeSucceeded

	// OutcomeFailureSent: a status 1 response was delivered after a failure.
	OutcomeFailureSent

	// OutcomeAbandoned: a failure happened after the handshake and the
	// failure response could not be delivered either.
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailureSent:
		return "failure_sent"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, bool) {
	for o := OutcomeRejected; o <= OutcomeAbandoned; o++ {
		if o.String() == s {
			return o, true
		}
	}
	return 0, false
}

// validTransitions lists the states reachable from each state.
var validTransitions = map[State][]State{
	StateAccepted:       {StateAuthenticating, StateClosed},
	StateAuthenticating: {StateAuthenticated, StateRejected},
	StateAuthenticated:  {StateResponseSent, StateFailed},
	StateRejected:       {StateClosed},
	StateResponseSent:   {StateClosed},
	StateFailed:         {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
