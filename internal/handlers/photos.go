package handlers

import (
	"net/http"
	"strconv"

	"github.com/vidfriends/mutualsync/internal/photos"
)

// PhotoHandler serves cached avatars.
type PhotoHandler struct {
	Cache PhotoCache
}

// Get handles GET /api/v1/photos?ref=.
func (h PhotoHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	if h.Cache == nil {
		respondError(ctx, w, photos.ErrUnavailable)
		return
	}

	data, err := h.Cache.Get(ctx, r.URL.Query().Get("ref"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
