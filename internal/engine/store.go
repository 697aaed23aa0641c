package engine

import (
	"context"

	"github.com/vidfriends/mutualsync/internal/models"
)

// Store persists sync results so a later process can bootstrap offline.
// Stored data is never assumed complete or current.
type Store interface {
	// SaveFriends replaces the stored friend list. Memberships of friends that
	// are no longer listed are dropped.
	SaveFriends(ctx context.Context, friends []models.Person) error
	// SaveGroups replaces the stored group list, dropping memberships of
	// groups that are no longer listed.
	SaveGroups(ctx context.Context, groups []models.Group) error
	// SaveMembership adds the pairs reported by one batch.
	SaveMembership(ctx context.Context, batch models.MembershipBatch) error
	Load(ctx context.Context) (models.Snapshot, error)
	Clear(ctx context.Context) error
}

type nopStore struct{}

func (nopStore) SaveFriends(context.Context, []models.Person) error          { return nil }
func (nopStore) SaveGroups(context.Context, []models.Group) error            { return nil }
func (nopStore) SaveMembership(context.Context, models.MembershipBatch) error { return nil }
func (nopStore) Load(context.Context) (models.Snapshot, error)               { return models.Snapshot{}, nil }
func (nopStore) Clear(context.Context) error                                 { return nil }
