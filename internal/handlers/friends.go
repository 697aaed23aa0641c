package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vidfriends/mutualsync/internal/logging"
	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/ordering"
)

// FriendHandler lists, adds and removes friends.
type FriendHandler struct {
	Engine  SyncEngine
	Limiter RateLimiter
}

type friendsResponse struct {
	Order   string          `json:"order"`
	Friends []models.Person `json:"friends"`
}

// Collection handles GET, POST and DELETE on /api/v1/friends.
func (h FriendHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.add(w, r)
	case http.MethodDelete:
		h.remove(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (h FriendHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := r.URL.Query().Get("order")
	order, err := ordering.ParseFriendOrder(raw)
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	name := "alphabet"
	if order == ordering.FriendsByMutualCount {
		name = "mutual"
	}
	respondJSON(ctx, w, http.StatusOK, friendsResponse{Order: name, Friends: nonNil(h.Engine.Friends(order))})
}

func (h FriendHandler) add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if throttled(w, r, h.Limiter, scopeFriends) {
		return
	}

	var p models.Person
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		logging.FromContext(ctx).Warn("invalid friend payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	p.ID = strings.TrimSpace(p.ID)

	if err := h.Engine.AddFriend(ctx, p); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, p)
}

func (h FriendHandler) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if throttled(w, r, h.Limiter, scopeFriends) {
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	if err := h.Engine.RemoveFriend(ctx, id); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Groups handles GET /api/v1/friends/groups?id=, the groups a friend shares
// with the user.
func (h FriendHandler) Groups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	groups, err := h.Engine.MutualGroupsOf(id)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"friendId": id, "groups": nonNil(groups)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
