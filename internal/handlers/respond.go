package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vidfriends/mutualsync/internal/engine"
	"github.com/vidfriends/mutualsync/internal/logging"
	"github.com/vidfriends/mutualsync/internal/photos"
	"github.com/vidfriends/mutualsync/internal/remote"
)

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps domain errors onto HTTP statuses.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var netErr *remote.NetworkError
	var parseErr *remote.ParseError
	switch {
	case errors.Is(err, engine.ErrInvalidID), errors.Is(err, photos.ErrInvalidRef):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownFriend), errors.Is(err, engine.ErrUnknownGroup), errors.Is(err, photos.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrNotReady), errors.Is(err, engine.ErrDuplicate):
		status = http.StatusConflict
	case errors.As(err, &netErr), errors.As(err, &parseErr):
		status = http.StatusBadGateway
	case errors.Is(err, photos.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	respondJSON(ctx, w, status, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
}
