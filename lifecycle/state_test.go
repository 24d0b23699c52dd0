package lifecycle

import "testing"

func TestStateMachine_InitialStatus(t *testing.T) {
	sm := NewStateMachine()
	if sm.Current() != StatusScanning {
		t.Errorf("expected initial status scanning, got %s", sm.Current())
	}
	if sm.Previous() != "" {
		t.Errorf("expected empty previous status, got %s", sm.Previous())
	}
}

func TestStateMachine_TransitionTable(t *testing.T) {
	statuses := []FolderStatus{StatusScanning, StatusIndexing, StatusActive, StatusError}

	allowed := map[FolderStatus]map[FolderStatus]bool{
		StatusScanning: {StatusIndexing: true, StatusActive: true, StatusError: true},
		StatusIndexing: {StatusIndexing: true, StatusActive: true, StatusError: true},
		StatusActive:   {StatusScanning: true, StatusError: true},
		StatusError:    {StatusScanning: true},
	}

	for _, from := range statuses {
		for _, to := range statuses {
			sm := &StateMachine{current: from}
			want := allowed[from][to]

			if got := sm.CanTransitionTo(to); got != want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", from, to, got, want)
			}
			if got := sm.TransitionTo(to); got != want {
				t.Errorf("TransitionTo(%s -> %s) = %v, want %v", from, to, got, want)
			}

			if want {
				if sm.Current() != to {
					t.Errorf("after %s -> %s, current = %s", from, to, sm.Current())
				}
				if sm.Previous() != from {
					t.Errorf("after %s -> %s, previous = %s", from, to, sm.Previous())
				}
			} else if sm.Current() != from {
				t.Errorf("rejected %s -> %s mutated current to %s", from, to, sm.Current())
			}
		}
	}
}

func TestStateMachine_IdentityTransitions(t *testing.T) {
	sm := &StateMachine{current: StatusIndexing}
	if !sm.TransitionTo(StatusIndexing) {
		t.Error("indexing -> indexing identity transition should be allowed")
	}

	for _, status := range []FolderStatus{StatusScanning, StatusActive, StatusError} {
		sm := &StateMachine{current: status}
		if sm.TransitionTo(status) {
			t.Errorf("%s -> %s same-state transition should be rejected", status, status)
		}
	}
}
