package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vidfriends/mutualsync/internal/engine"
	"github.com/vidfriends/mutualsync/internal/logging"
	"github.com/vidfriends/mutualsync/internal/ordering"
)

// SyncHandler starts, cancels and reports on full syncs.
type SyncHandler struct {
	Engine  SyncEngine
	Photos  PhotoCache
	Warmer  PhotoWarmer
	Limiter RateLimiter
}

type startResponse struct {
	RunID string       `json:"runId"`
	State engine.State `json:"state"`
}

// Start handles POST /api/v1/sync/start. The sync outlives the request; its
// progress is available from Status.
func (h SyncHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	if throttled(w, r, h.Limiter, scopeSync) {
		return
	}

	events, err := h.Engine.Start(context.WithoutCancel(ctx))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	st := h.Engine.Status()
	go watchRun(logging.FromContext(ctx).With("run_id", st.RunID), events, h.Engine, h.Warmer)

	respondJSON(ctx, w, http.StatusAccepted, startResponse{RunID: st.RunID, State: st.State})
}

// Cancel handles POST /api/v1/sync/cancel.
func (h SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	h.Engine.Cancel()
	respondJSON(r.Context(), w, http.StatusAccepted, h.Engine.Status())
}

// Reset handles POST /api/v1/sync/reset. It stops any running sync and wipes
// the in-memory indexes, the persisted cache and the avatars held in memory,
// as on logout.
func (h SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	if err := h.Engine.Clear(ctx); err != nil {
		respondError(ctx, w, err)
		return
	}
	if h.Photos != nil {
		h.Photos.Purge()
	}
	respondJSON(ctx, w, http.StatusOK, h.Engine.Status())
}

// Status handles GET /api/v1/sync/status.
func (h SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, h.Engine.Status())
}

// watchRun drains a run's events and warms avatars once it completes.
func watchRun(logger *slog.Logger, events <-chan engine.Event, eng SyncEngine, warmer PhotoWarmer) {
	for ev := range events {
		switch ev.Kind {
		case engine.EventPhaseChanged:
			logger.Info("sync phase changed", "state", ev.State.String())
		case engine.EventProgress:
			logger.Debug("sync progress", "completed", ev.Completed, "total", ev.Total)
		case engine.EventError:
			logger.Warn("sync failed", "error", ev.Err)
		case engine.EventCompleted:
			if warmer == nil {
				continue
			}
			queued := warmer.Warm(photoRefs(eng))
			logger.Info("sync completed", "photosQueued", queued)
		}
	}
}

func photoRefs(eng SyncEngine) []string {
	var refs []string
	for _, p := range eng.Friends(ordering.FriendsByAlphabet) {
		if p.PhotoRef != "" {
			refs = append(refs, p.PhotoRef)
		}
	}
	for _, g := range eng.Groups(ordering.GroupsByDefault) {
		if g.PhotoRef != "" {
			refs = append(refs, g.PhotoRef)
		}
	}
	return refs
}
