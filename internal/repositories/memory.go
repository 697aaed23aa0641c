package repositories

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vidfriends/mutualsync/internal/models"
)

// MemoryStore keeps the membership cache in process memory. It is the
// default store and what tests use when persistence is not under test.
type MemoryStore struct {
	mu      sync.RWMutex
	friends []models.Person
	groups  []models.Group
	members map[string]map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]map[string]struct{})}
}

// SaveFriends replaces the friend list.
func (s *MemoryStore) SaveFriends(_ context.Context, friends []models.Person) error {
	if id, dup := firstDuplicate(len(friends), func(i int) string { return friends[i].ID }); dup {
		return fmt.Errorf("save friends: friend %s: %w", id, ErrConflict)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends = slices.Clone(friends)
	known := make(map[string]struct{}, len(friends))
	for _, p := range friends {
		known[p.ID] = struct{}{}
	}
	for _, set := range s.members {
		for friendID := range set {
			if _, ok := known[friendID]; !ok {
				delete(set, friendID)
			}
		}
	}
	return nil
}

// SaveGroups replaces the group list.
func (s *MemoryStore) SaveGroups(_ context.Context, groups []models.Group) error {
	if id, dup := firstDuplicate(len(groups), func(i int) string { return groups[i].ID }); dup {
		return fmt.Errorf("save groups: group %s: %w", id, ErrConflict)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = slices.Clone(groups)
	known := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		known[g.ID] = struct{}{}
	}
	for groupID := range s.members {
		if _, ok := known[groupID]; !ok {
			delete(s.members, groupID)
		}
	}
	return nil
}

// SaveMembership adds the pairs of one batch.
func (s *MemoryStore) SaveMembership(_ context.Context, members models.MembershipBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for groupID, friendIDs := range members {
		set, ok := s.members[groupID]
		if !ok {
			set = make(map[string]struct{}, len(friendIDs))
			s.members[groupID] = set
		}
		for _, friendID := range friendIDs {
			set[friendID] = struct{}{}
		}
	}
	return nil
}

// Load returns a copy of the cached snapshot.
func (s *MemoryStore) Load(context.Context) (models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	friends := make(map[string]struct{}, len(s.friends))
	for _, p := range s.friends {
		friends[p.ID] = struct{}{}
	}
	groups := make(map[string]struct{}, len(s.groups))
	for _, g := range s.groups {
		groups[g.ID] = struct{}{}
	}

	snap := models.Snapshot{
		Friends:     slices.Clone(s.friends),
		Groups:      slices.Clone(s.groups),
		Memberships: make(models.MembershipBatch),
	}
	for groupID, set := range s.members {
		if _, ok := groups[groupID]; !ok {
			continue
		}
		for friendID := range set {
			if _, ok := friends[friendID]; ok {
				snap.Memberships[groupID] = append(snap.Memberships[groupID], friendID)
			}
		}
		slices.Sort(snap.Memberships[groupID])
	}
	return snap, nil
}

// Clear drops everything.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friends = nil
	s.groups = nil
	s.members = make(map[string]map[string]struct{})
	return nil
}

func firstDuplicate(n int, id func(int) string) (string, bool) {
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		if _, ok := seen[id(i)]; ok {
			return id(i), true
		}
		seen[id(i)] = struct{}{}
	}
	return "", false
}
