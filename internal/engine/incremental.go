package engine

import (
	"context"
	"fmt"

	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/ordering"
)

// AddFriend fetches p's memberships against every known group and commits
// them as a unit. On any failure the index and views are left as they were.
func (c *Coordinator) AddFriend(ctx context.Context, p models.Person) (err error) {
	defer func() { observeIncremental("add_friend", err) }()
	if p.ID == "" {
		return ErrInvalidID
	}

	c.incMu.Lock()
	defer c.incMu.Unlock()

	c.mu.RLock()
	if c.state != StateFinished {
		c.mu.RUnlock()
		return ErrNotReady
	}
	if c.index.HasFriend(p.ID) {
		c.mu.RUnlock()
		return fmt.Errorf("friend %s: %w", p.ID, ErrDuplicate)
	}
	generation := c.generation
	groupIDs := c.views.GroupIDs()
	c.mu.RUnlock()

	staged, err := c.planner.Collect(ctx, c.planner.Plan([]string{p.ID}, groupIDs))
	if err != nil {
		return fmt.Errorf("add friend %s: %w", p.ID, err)
	}

	c.mu.Lock()
	if c.generation != generation || c.state != StateFinished {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.index.RegisterFriend(p.ID)
	c.views.AddFriend(p)
	c.markStagedLocked(staged)
	c.views.Refresh(c.index)
	friends := c.views.RemoteFriends()
	c.mu.Unlock()

	c.persistFrom(ctx, generation, "save friends", func(ctx context.Context) error {
		return c.store.SaveFriends(ctx, friends)
	})
	c.persistFrom(ctx, generation, "save membership", func(ctx context.Context) error {
		return c.store.SaveMembership(ctx, staged)
	})
	c.logger.Info("friend added", "friendId", p.ID, "groups", len(staged))
	return nil
}

// AddGroup fetches g's members among every known friend and commits them as
// a unit.
func (c *Coordinator) AddGroup(ctx context.Context, g models.Group) (err error) {
	defer func() { observeIncremental("add_group", err) }()
	if g.ID == "" {
		return ErrInvalidID
	}

	c.incMu.Lock()
	defer c.incMu.Unlock()

	c.mu.RLock()
	if c.state != StateFinished {
		c.mu.RUnlock()
		return ErrNotReady
	}
	if c.index.HasGroup(g.ID) {
		c.mu.RUnlock()
		return fmt.Errorf("group %s: %w", g.ID, ErrDuplicate)
	}
	generation := c.generation
	friendIDs := c.views.FriendIDs()
	c.mu.RUnlock()

	staged, err := c.planner.Collect(ctx, c.planner.Plan(friendIDs, []string{g.ID}))
	if err != nil {
		return fmt.Errorf("add group %s: %w", g.ID, err)
	}

	c.mu.Lock()
	if c.generation != generation || c.state != StateFinished {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.index.RegisterGroup(g.ID)
	c.views.AddGroup(g)
	c.markStagedLocked(staged)
	c.views.Refresh(c.index)
	groups := c.views.Groups(ordering.GroupsByDefault)
	c.mu.Unlock()

	c.persistFrom(ctx, generation, "save groups", func(ctx context.Context) error {
		return c.store.SaveGroups(ctx, groups)
	})
	c.persistFrom(ctx, generation, "save membership", func(ctx context.Context) error {
		return c.store.SaveMembership(ctx, staged)
	})
	c.logger.Info("group added", "groupId", g.ID, "members", len(staged[g.ID]))
	return nil
}

// RemoveFriend drops a friend and all of its memberships. It needs no remote
// call.
func (c *Coordinator) RemoveFriend(ctx context.Context, id string) (err error) {
	defer func() { observeIncremental("remove_friend", err) }()

	c.mu.Lock()
	if c.state != StateFinished {
		c.mu.Unlock()
		return ErrNotReady
	}
	if !c.index.RemoveFriend(id) {
		c.mu.Unlock()
		return fmt.Errorf("friend %s: %w", id, ErrUnknownFriend)
	}
	c.views.RemoveFriend(id)
	c.views.Refresh(c.index)
	friends := c.views.RemoteFriends()
	generation := c.generation
	c.mu.Unlock()

	c.persistFrom(ctx, generation, "save friends", func(ctx context.Context) error {
		return c.store.SaveFriends(ctx, friends)
	})
	c.logger.Info("friend removed", "friendId", id)
	return nil
}

// RemoveGroup drops a group and all of its memberships.
func (c *Coordinator) RemoveGroup(ctx context.Context, id string) (err error) {
	defer func() { observeIncremental("remove_group", err) }()

	c.mu.Lock()
	if c.state != StateFinished {
		c.mu.Unlock()
		return ErrNotReady
	}
	if !c.index.RemoveGroup(id) {
		c.mu.Unlock()
		return fmt.Errorf("group %s: %w", id, ErrUnknownGroup)
	}
	c.views.RemoveGroup(id)
	c.views.Refresh(c.index)
	groups := c.views.Groups(ordering.GroupsByDefault)
	generation := c.generation
	c.mu.Unlock()

	c.persistFrom(ctx, generation, "save groups", func(ctx context.Context) error {
		return c.store.SaveGroups(ctx, groups)
	})
	c.logger.Info("group removed", "groupId", id)
	return nil
}

// markStagedLocked commits staged memberships, skipping ids removed while the
// fetch was in flight.
func (c *Coordinator) markStagedLocked(staged models.MembershipBatch) {
	for groupID, friendIDs := range staged {
		if !c.index.HasGroup(groupID) {
			continue
		}
		for _, friendID := range friendIDs {
			if c.index.HasFriend(friendID) {
				_ = c.index.MarkMember(friendID, groupID)
			}
		}
	}
}
