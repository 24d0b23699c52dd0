package lifecycle

// transitions is the allowed transition table. Note the indexing->indexing
// identity transition: it is used to timestamp progress acknowledgments and
// is the only same-state transition that is not rejected.
var transitions = map[FolderStatus][]FolderStatus{
	StatusScanning: {StatusIndexing, StatusActive, StatusError},
	StatusIndexing: {StatusIndexing, StatusActive, StatusError},
	StatusActive:   {StatusScanning, StatusError},
	StatusError:    {StatusScanning},
}

// StateMachine validates and records folder status transitions. It is a
// pure transition table: no timers, no task data, no I/O. Only the current
// and immediately previous status are tracked, for diagnostics.
//
// The machine is not safe for concurrent use; it is owned and serialized by
// the folder's Orchestrator.
type StateMachine struct {
	current  FolderStatus
	previous FolderStatus
}

// NewStateMachine returns a state machine in the initial scanning status.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StatusScanning}
}

// Current returns the current status.
func (m *StateMachine) Current() FolderStatus {
	return m.current
}

// Previous returns the status before the last accepted transition. It is
// empty until the first transition.
func (m *StateMachine) Previous() FolderStatus {
	return m.previous
}

// CanTransitionTo reports whether the transition from the current status to
// next is allowed.
func (m *StateMachine) CanTransitionTo(next FolderStatus) bool {
	for _, allowed := range transitions[m.current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo moves to next if the transition table allows it and reports
// whether it did. Rejected transitions leave the machine untouched.
func (m *StateMachine) TransitionTo(next FolderStatus) bool {
	if !m.CanTransitionTo(next) {
		return false
	}
	m.previous = m.current
	m.current = next
	return true
}
