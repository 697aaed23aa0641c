package engine

import (
	"context"
	"fmt"
)

// Clear discards all data, as on logout. A running sync is cancelled and
// converges to Idle once its outstanding batches drain; otherwise the
// coordinator becomes Idle immediately. The store is wiped in both cases.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.state.running() {
		c.pendingReset = true
		c.current.cancel()
	} else {
		c.resetLocked()
		c.setStateLocked(StateIdle)
		c.lastErr = nil
	}
	c.mu.Unlock()

	c.storeMu.Lock()
	defer c.storeMu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	c.logger.Info("membership data cleared")
	return nil
}

// Restore bootstraps an idle coordinator from the store so queries can be
// served before the first sync. It reports whether anything was restored.
// Restored data may be stale; a later Start replaces it.
func (c *Coordinator) Restore(ctx context.Context) (bool, error) {
	c.mu.RLock()
	if c.state != StateIdle {
		c.mu.RUnlock()
		return false, ErrNotReady
	}
	generation := c.generation
	c.mu.RUnlock()

	snap, err := c.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Empty() {
		return false, nil
	}
	friends := uniqueFriends(snap.Friends, c.logger)
	groups := uniqueGroups(snap.Groups, c.logger)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle || c.generation != generation {
		return false, ErrNotReady
	}
	for _, p := range friends {
		c.index.RegisterFriend(p.ID)
	}
	for _, g := range groups {
		c.index.RegisterGroup(g.ID)
	}
	c.views.SetFriends(friends)
	c.views.SetGroups(groups)
	c.markStagedLocked(snap.Memberships)
	c.views.Refresh(c.index)
	c.setStateLocked(StateFinished)
	c.generation++

	c.logger.Info("membership data restored", "friends", len(friends), "groups", len(groups))
	return true, nil
}
