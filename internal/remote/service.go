// Package remote describes the rate-limited graph service the engine syncs
// from and provides an HTTP implementation of it.
package remote

import (
	"context"

	"github.com/vidfriends/mutualsync/internal/models"
)

// BatchRequest names one chunk of the friend×group cross-product. It is a
// plain descriptor; how a transport encodes it on the wire is its own concern.
type BatchRequest struct {
	FriendIDs []string `json:"friendIds"`
	GroupIDs  []string `json:"groupIds"`
}

// Service is the remote graph the engine reads friends, groups and group
// memberships from.
type Service interface {
	FetchFriends(ctx context.Context) ([]models.Person, error)
	FetchGroups(ctx context.Context) ([]models.Group, error)
	// FetchMembershipBatch reports, for every group in the request, the subset
	// of the requested friend ids that are members of it.
	FetchMembershipBatch(ctx context.Context, req BatchRequest) (models.MembershipBatch, error)
}
