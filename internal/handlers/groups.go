package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vidfriends/mutualsync/internal/logging"
	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/ordering"
)

// GroupHandler lists, adds and removes groups.
type GroupHandler struct {
	Engine  SyncEngine
	Limiter RateLimiter
}

type groupsResponse struct {
	Order  string         `json:"order"`
	Groups []models.Group `json:"groups"`
}

// Collection handles GET, POST and DELETE on /api/v1/groups.
func (h GroupHandler) Collection(w http.ResponseWriter, r *http.Request) {
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

func (h GroupHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := ordering.ParseGroupOrder(r.URL.Query().Get("order"))
	if err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	name := "default"
	if order == ordering.GroupsByFriendCount {
		name = "friends"
	}
	respondJSON(ctx, w, http.StatusOK, groupsResponse{Order: name, Groups: nonNil(h.Engine.Groups(order))})
}

func (h GroupHandler) add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if throttled(w, r, h.Limiter, scopeGroups) {
		return
	}

	var g models.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		logging.FromContext(ctx).Warn("invalid group payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	g.ID = strings.TrimSpace(g.ID)

	if err := h.Engine.AddGroup(ctx, g); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, g)
}

func (h GroupHandler) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if throttled(w, r, h.Limiter, scopeGroups) {
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	if err := h.Engine.RemoveGroup(ctx, id); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Friends handles GET /api/v1/groups/friends?id=.
func (h GroupHandler) Friends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	friends, err := h.Engine.FriendsIn(id)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"groupId": id, "friends": nonNil(friends)})
}
