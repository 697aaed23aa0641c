package engine

import "fmt"

// State is the phase of the sync state machine.
type State int

const (
	StateIdle State = iota
	StateLoadingFriends
	StateComputingMutual
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingFriends:
		return "loading_friends"
	case StateComputingMutual:
		return "computing_mutual"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// running reports whether a full sync owns the state machine.
func (s State) running() bool {
	return s == StateLoadingFriends || s == StateComputingMutual
}

// EventKind discriminates Event.
type EventKind int

const (
	EventPhaseChanged EventKind = iota
	EventProgress
	EventError
	EventCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventPhaseChanged:
		return "phase_changed"
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventCompleted:
		return "completed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one notification from a sync run. State is set for
// EventPhaseChanged, Completed/Total for EventProgress and Err for EventError.
type Event struct {
	Kind      EventKind
	RunID     string
	State     State
	Completed int
	Total     int
	Err       error
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State        State  `json:"state"`
	RunID        string `json:"runId,omitempty"`
	Completed    int    `json:"completedBatches"`
	Total        int    `json:"totalBatches"`
	PendingReset bool   `json:"pendingReset"`
	Friends      int    `json:"friends"`
	Groups       int    `json:"groups"`
	LastError    string `json:"lastError,omitempty"`
}
