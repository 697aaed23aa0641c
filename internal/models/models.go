package models

// Person is a friend of the current user as reported by the remote graph.
// Records are immutable once fetched; they are replaced wholesale by a fresh
// sync or by adding/removing the friend.
type Person struct {
	ID         string `json:"id"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	CanMessage bool   `json:"canMessage"`
	PhotoRef   string `json:"photoRef,omitempty"`
}

// DisplayName joins the first and last name.
func (p Person) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// Group is a community the current user belongs to.
type Group struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PhotoRef string `json:"photoRef,omitempty"`
}

// MembershipBatch maps a group id to the friend ids reported as members of
// that group by a single batch response.
type MembershipBatch map[string][]string

// Snapshot is the cached state used to bootstrap the engine offline. Friends
// and groups keep the order in which the remote service returned them.
type Snapshot struct {
	Friends     []Person
	Groups      []Group
	Memberships MembershipBatch
}

// Empty reports whether the snapshot carries no records.
func (s Snapshot) Empty() bool {
	return len(s.Friends) == 0 && len(s.Groups) == 0
}
