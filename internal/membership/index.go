// Package membership stores the bidirectional friend/group relation.
package membership

import (
	"log/slog"
	"sort"
)

type set map[string]struct{}

// Index keeps friend->groups and group->friends in sync so that
// g ∈ friendGroups[f] exactly when f ∈ groupFriends[g].
//
// Index is not safe for concurrent use. The sync coordinator owns it and
// serializes every mutation.
type Index struct {
	friendGroups map[string]set
	groupFriends map[string]set
	logger       *slog.Logger
}

// New returns an empty index. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		friendGroups: make(map[string]set),
		groupFriends: make(map[string]set),
		logger:       logger,
	}
}

// RegisterFriend creates the empty entry for a friend. Registering twice keeps
// existing memberships.
func (x *Index) RegisterFriend(id string) {
	if _, ok := x.friendGroups[id]; !ok {
		x.friendGroups[id] = make(set)
	}
}

// RegisterGroup creates the empty entry for a group.
func (x *Index) RegisterGroup(id string) {
	if _, ok := x.groupFriends[id]; !ok {
		x.groupFriends[id] = make(set)
	}
}

// MarkMember records that friendID belongs to groupID. It is idempotent.
// Marking an unregistered id leaves the index untouched, logs the problem and
// returns an *InconsistentStateError.
func (x *Index) MarkMember(friendID, groupID string) error {
	groups, okFriend := x.friendGroups[friendID]
	friends, okGroup := x.groupFriends[groupID]
	if !okFriend || !okGroup {
		err := &InconsistentStateError{FriendID: friendID, GroupID: groupID, Missing: "group"}
		if !okFriend {
			err.Missing = "friend"
		}
		x.logger.Warn("membership for unknown id ignored", "friendId", friendID, "groupId", groupID, "error", err)
		return err
	}
	groups[groupID] = struct{}{}
	friends[friendID] = struct{}{}
	return nil
}

// RemoveFriend deletes the friend entry and detaches it from every group.
// It reports whether the friend was known.
func (x *Index) RemoveFriend(id string) bool {
	groups, ok := x.friendGroups[id]
	if !ok {
		return false
	}
	for groupID := range groups {
		delete(x.groupFriends[groupID], id)
	}
	delete(x.friendGroups, id)
	return true
}

// RemoveGroup deletes the group entry and detaches it from every friend.
func (x *Index) RemoveGroup(id string) bool {
	friends, ok := x.groupFriends[id]
	if !ok {
		return false
	}
	for friendID := range friends {
		delete(x.friendGroups[friendID], id)
	}
	delete(x.groupFriends, id)
	return true
}

// HasFriend reports whether the friend is registered.
func (x *Index) HasFriend(id string) bool {
	_, ok := x.friendGroups[id]
	return ok
}

// HasGroup reports whether the group is registered.
func (x *Index) HasGroup(id string) bool {
	_, ok := x.groupFriends[id]
	return ok
}

// FriendCount returns |friendGroups[id]|, the number of mutual groups.
func (x *Index) FriendCount(id string) int {
	return len(x.friendGroups[id])
}

// GroupCount returns |groupFriends[id]|.
func (x *Index) GroupCount(id string) int {
	return len(x.groupFriends[id])
}

// GroupsOf returns the group ids of a friend, sorted for stable output.
func (x *Index) GroupsOf(friendID string) []string {
	return sortedKeys(x.friendGroups[friendID])
}

// FriendsIn returns the friend ids that belong to a group, sorted.
func (x *Index) FriendsIn(groupID string) []string {
	return sortedKeys(x.groupFriends[groupID])
}

// Friends returns the number of registered friends.
func (x *Index) Friends() int { return len(x.friendGroups) }

// Groups returns the number of registered groups.
func (x *Index) Groups() int { return len(x.groupFriends) }

// Pairs returns every (friend, group) membership as group -> sorted friend ids.
// Groups without members are included with an empty slice.
func (x *Index) Pairs() map[string][]string {
	out := make(map[string][]string, len(x.groupFriends))
	for groupID, friends := range x.groupFriends {
		out[groupID] = sortedKeys(friends)
	}
	return out
}

// Clear drops every entry.
func (x *Index) Clear() {
	x.friendGroups = make(map[string]set)
	x.groupFriends = make(map[string]set)
}

func sortedKeys(s set) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
