package turn

// State is a step of the per-submission state machine:
//
//	Idle → Validating → {Rejected | Calling} → {Committed | Failed}
//
// Rejected, Committed and Failed are terminal for a submission; the
// controller re-enters Idle after each of them.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateRejected
	StateCalling
	StateCommitted
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateValidating: "validating",
	StateRejected:   "rejected",
	StateCalling:    "calling",
	StateCommitted:  "committed",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends a submission.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateCommitted || s == StateFailed
}

// next reports whether the machine may move from s to to.
func (s State) next(to State) bool {
	switch s {
	case StateIdle:
		return to == StateValidating
	case StateValidating:
		return to == StateRejected || to == StateCalling
	case StateCalling:
		return to == StateCommitted || to == StateFailed
	case StateRejected, StateCommitted, StateFailed:
		return to == StateIdle
	}
	return false
}
