package evaluation

import "fmt"

// State is the position of a run in the evaluation pipeline.
type State int

const (
	Received State = iota
	RequestValidated
	Dispatched
	SubmissionParsed
	Simulated
	Scored
	Completed
	Rejected
	Failed
)

func (s State) String() string {
	switch s {
	case Received:
		return "Received"
	case RequestValidated:
		return "RequestValidated"
	case Dispatched:
		return "Dispatched"
	case SubmissionParsed:
		return "SubmissionParsed"
	case Simulated:
		return "Simulated"
	case Scored:
		return "Scored"
	case Completed:
		return "Completed"
	case Rejected:
		return "Rejected"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Completed || s == Rejected || s == Failed
}

// transitions lists the legal successors of every non-terminal state.
// Failed is reachable from all of them.
var transitions = map[State][]State{
	Received:         {RequestValidated, Rejected, Failed},
	RequestValidated: {Dispatched, Rejected, Failed},
	Dispatched:       {SubmissionParsed, Rejected, Failed},
	SubmissionParsed: {Simulated, Rejected, Failed},
	Simulated:        {Scored, Failed},
	Scored:           {Completed, Failed},
}

// CanTransition reports whether the pipeline allows moving from one state to
// another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
