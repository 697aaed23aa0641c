package handlers

import (
	"context"

	"github.com/vidfriends/mutualsync/internal/engine"
	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/ordering"
)

// SyncEngine is the part of engine.Coordinator the HTTP API drives.
type SyncEngine interface {
	Start(ctx context.Context) (<-chan engine.Event, error)
	Cancel()
	Clear(ctx context.Context) error
	Status() engine.Status
	Friends(order ordering.FriendOrder) []models.Person
	Groups(order ordering.GroupOrder) []models.Group
	MutualGroupsOf(friendID string) ([]models.Group, error)
	FriendsIn(groupID string) ([]models.Person, error)
	AddFriend(ctx context.Context, p models.Person) error
	RemoveFriend(ctx context.Context, id string) error
	AddGroup(ctx context.Context, g models.Group) error
	RemoveGroup(ctx context.Context, id string) error
}

// PhotoCache resolves avatar bytes by ref.
type PhotoCache interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	// Purge forgets every avatar held in memory.
	Purge()
}

// PhotoWarmer queues avatars for background download.
type PhotoWarmer interface {
	Warm(refs []string) int
}
