// Package ordering maintains the cached total orders over friends and groups.
//
// Base orders (alphabetical friends, remote order for groups) are computed when
// the collections are loaded and only change when an element is added or
// removed. Count orders are recomputed by an explicit Refresh, which callers
// run once per phase boundary rather than after every membership merge.
package ordering

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vidfriends/mutualsync/internal/models"
)

// FriendOrder selects one of the friend views.
type FriendOrder int

const (
	FriendsByAlphabet FriendOrder = iota
	FriendsByMutualCount
)

// GroupOrder selects one of the group views.
type GroupOrder int

const (
	GroupsByDefault GroupOrder = iota
	GroupsByFriendCount
)

// ParseFriendOrder maps the API spelling of a friend order.
func ParseFriendOrder(s string) (FriendOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "alphabet", "alpha":
		return FriendsByAlphabet, nil
	case "mutual", "mutual_count":
		return FriendsByMutualCount, nil
	default:
		return 0, fmt.Errorf("unknown friend order %q", s)
	}
}

// ParseGroupOrder maps the API spelling of a group order.
func ParseGroupOrder(s string) (GroupOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return GroupsByDefault, nil
	case "friends", "friend_count":
		return GroupsByFriendCount, nil
	default:
		return 0, fmt.Errorf("unknown group order %q", s)
	}
}

// Counter exposes the relation sizes the count orders sort by.
type Counter interface {
	FriendCount(friendID string) int
	GroupCount(groupID string) int
}

// Engine caches the four views. It is not safe for concurrent use.
type Engine struct {
	friends    []models.Person // remote order, tie-break for the alphabetical view
	alphabet   []models.Person
	alphaPos   map[string]int
	byMutual   []models.Person
	friendByID map[string]models.Person

	groups     []models.Group
	defaultPos map[string]int
	byFriends  []models.Group
	groupByID  map[string]models.Group
}

// New returns an engine with empty views.
func New() *Engine {
	e := &Engine{}
	e.Reset()
	return e
}

// Reset drops every view.
func (e *Engine) Reset() {
	e.friends = nil
	e.alphabet = nil
	e.byMutual = nil
	e.alphaPos = make(map[string]int)
	e.friendByID = make(map[string]models.Person)
	e.groups = nil
	e.byFriends = nil
	e.defaultPos = make(map[string]int)
	e.groupByID = make(map[string]models.Group)
}

// SetFriends replaces the friend collection and computes the alphabetical view.
// Until the next Refresh the mutual-count view mirrors the alphabetical one.
func (e *Engine) SetFriends(friends []models.Person) {
	e.friends = append([]models.Person(nil), friends...)
	e.friendByID = make(map[string]models.Person, len(friends))
	for _, p := range e.friends {
		e.friendByID[p.ID] = p
	}
	e.sortAlphabet()
	e.byMutual = append([]models.Person(nil), e.alphabet...)
}

// SetGroups replaces the group collection. Remote order is the default view.
func (e *Engine) SetGroups(groups []models.Group) {
	e.groups = append([]models.Group(nil), groups...)
	e.groupByID = make(map[string]models.Group, len(groups))
	e.indexGroups()
	e.byFriends = append([]models.Group(nil), e.groups...)
}

// AddFriend appends a friend to the remote order and places it in the
// alphabetical view. The count view receives it at the end until Refresh.
func (e *Engine) AddFriend(p models.Person) {
	e.friends = append(e.friends, p)
	e.friendByID[p.ID] = p
	e.sortAlphabet()
	e.byMutual = append(e.byMutual, p)
}

// RemoveFriend drops a friend from every view.
func (e *Engine) RemoveFriend(id string) bool {
	if _, ok := e.friendByID[id]; !ok {
		return false
	}
	delete(e.friendByID, id)
	e.friends = removePerson(e.friends, id)
	e.byMutual = removePerson(e.byMutual, id)
	e.sortAlphabet()
	return true
}

// AddGroup appends a group to the default order.
func (e *Engine) AddGroup(g models.Group) {
	e.groups = append(e.groups, g)
	e.indexGroups()
	e.byFriends = append(e.byFriends, g)
}

// RemoveGroup drops a group from every view.
func (e *Engine) RemoveGroup(id string) bool {
	if _, ok := e.groupByID[id]; !ok {
		return false
	}
	e.groups = removeGroup(e.groups, id)
	e.byFriends = removeGroup(e.byFriends, id)
	e.indexGroups()
	return true
}

// Refresh recomputes both count views from c with a full sort pass. Ties keep
// the base order so identical inputs always produce identical output.
func (e *Engine) Refresh(c Counter) {
	byMutual := append([]models.Person(nil), e.alphabet...)
	counts := make(map[string]int, len(byMutual))
	for _, p := range byMutual {
		counts[p.ID] = c.FriendCount(p.ID)
	}
	sort.SliceStable(byMutual, func(i, j int) bool {
		ci, cj := counts[byMutual[i].ID], counts[byMutual[j].ID]
		if ci != cj {
			return ci > cj
		}
		return e.alphaPos[byMutual[i].ID] < e.alphaPos[byMutual[j].ID]
	})
	e.byMutual = byMutual

	byFriends := append([]models.Group(nil), e.groups...)
	groupCounts := make(map[string]int, len(byFriends))
	for _, g := range byFriends {
		groupCounts[g.ID] = c.GroupCount(g.ID)
	}
	sort.SliceStable(byFriends, func(i, j int) bool {
		ci, cj := groupCounts[byFriends[i].ID], groupCounts[byFriends[j].ID]
		if ci != cj {
			return ci > cj
		}
		return e.defaultPos[byFriends[i].ID] < e.defaultPos[byFriends[j].ID]
	})
	e.byFriends = byFriends
}

// Friends returns a copy of the requested view.
func (e *Engine) Friends(order FriendOrder) []models.Person {
	if order == FriendsByMutualCount {
		return append([]models.Person(nil), e.byMutual...)
	}
	return append([]models.Person(nil), e.alphabet...)
}

// Groups returns a copy of the requested view.
func (e *Engine) Groups(order GroupOrder) []models.Group {
	if order == GroupsByFriendCount {
		return append([]models.Group(nil), e.byFriends...)
	}
	return append([]models.Group(nil), e.groups...)
}

// FriendIDs returns friend ids in remote order.
func (e *Engine) FriendIDs() []string {
	ids := make([]string, len(e.friends))
	for i, p := range e.friends {
		ids[i] = p.ID
	}
	return ids
}

// GroupIDs returns group ids in default order.
func (e *Engine) GroupIDs() []string {
	ids := make([]string, len(e.groups))
	for i, g := range e.groups {
		ids[i] = g.ID
	}
	return ids
}

// RemoteFriends returns the friend records in remote order.
func (e *Engine) RemoteFriends() []models.Person {
	return append([]models.Person(nil), e.friends...)
}

// SortFriendIDs orders ids by their alphabetical position; unknown ids go last.
func (e *Engine) SortFriendIDs(ids []string) []models.Person {
	out := make([]models.Person, 0, len(ids))
	for _, id := range ids {
		if p, ok := e.friendByID[id]; ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return e.alphaPos[out[i].ID] < e.alphaPos[out[j].ID]
	})
	return out
}

// SortGroupIDs orders ids by their default position.
func (e *Engine) SortGroupIDs(ids []string) []models.Group {
	out := make([]models.Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := e.groupByID[id]; ok {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return e.defaultPos[out[i].ID] < e.defaultPos[out[j].ID]
	})
	return out
}

// lessAlphabet compares by first name, then last name, byte-wise, which for
// UTF-8 matches code point order. Namesakes fall back to id so the view does
// not depend on the order friends arrived in.
func lessAlphabet(a, b models.Person) bool {
	if a.FirstName != b.FirstName {
		return a.FirstName < b.FirstName
	}
	if a.LastName != b.LastName {
		return a.LastName < b.LastName
	}
	return a.ID < b.ID
}

func (e *Engine) sortAlphabet() {
	alphabet := append([]models.Person(nil), e.friends...)
	sort.SliceStable(alphabet, func(i, j int) bool {
		return lessAlphabet(alphabet[i], alphabet[j])
	})
	e.alphabet = alphabet
	e.alphaPos = make(map[string]int, len(alphabet))
	for i, p := range alphabet {
		e.alphaPos[p.ID] = i
	}
}

func (e *Engine) indexGroups() {
	e.defaultPos = make(map[string]int, len(e.groups))
	e.groupByID = make(map[string]models.Group, len(e.groups))
	for i, g := range e.groups {
		e.defaultPos[g.ID] = i
		e.groupByID[g.ID] = g
	}
}

func removePerson(list []models.Person, id string) []models.Person {
	out := list[:0:0]
	for _, p := range list {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func removeGroup(list []models.Group, id string) []models.Group {
	out := list[:0:0]
	for _, g := range list {
		if g.ID != id {
			out = append(out, g)
		}
	}
	return out
}
