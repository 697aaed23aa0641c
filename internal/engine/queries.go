package engine

import (
	"fmt"

	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/ordering"
)

// State returns the current phase.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns the phase together with progress and collection sizes.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		State:        c.state,
		PendingReset: c.pendingReset,
		Friends:      c.index.Friends(),
		Groups:       c.index.Groups(),
	}
	if c.current != nil {
		st.RunID = c.current.id
		st.Completed = c.current.completed
		st.Total = c.current.total
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Friends returns the friends in the given order. During ComputingMutual the
// count order reflects the last refresh, not the partial index.
func (c *Coordinator) Friends(order ordering.FriendOrder) []models.Person {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.views.Friends(order)
}

// Groups returns the groups in the given order.
func (c *Coordinator) Groups(order ordering.GroupOrder) []models.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.views.Groups(order)
}

// MutualGroupsOf lists the groups friendID belongs to, in default group order.
// While a sync is computing the result may be incomplete.
func (c *Coordinator) MutualGroupsOf(friendID string) ([]models.Group, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.index.HasFriend(friendID) {
		return nil, fmt.Errorf("friend %s: %w", friendID, ErrUnknownFriend)
	}
	return c.views.SortGroupIDs(c.index.GroupsOf(friendID)), nil
}

// FriendsIn lists the friends in groupID alphabetically.
func (c *Coordinator) FriendsIn(groupID string) ([]models.Person, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.index.HasGroup(groupID) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrUnknownGroup)
	}
	return c.views.SortFriendIDs(c.index.FriendsIn(groupID)), nil
}
