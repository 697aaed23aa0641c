package membership

import "fmt"

// InconsistentStateError reports a mutation that referenced an id the index
// has not registered. The mutation is dropped; it never aborts a sync.
type InconsistentStateError struct {
	FriendID string
	GroupID  string
	Missing  string
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent membership state: %s not registered (friend=%q group=%q)", e.Missing, e.FriendID, e.GroupID)
}
