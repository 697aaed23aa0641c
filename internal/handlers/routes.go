package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Engine: deps.Engine}
	sync := SyncHandler{Engine: deps.Engine, Photos: deps.Photos, Warmer: deps.Warmer, Limiter: deps.RateLimiter}
	friends := FriendHandler{Engine: deps.Engine, Limiter: deps.RateLimiter}
	groups := GroupHandler{Engine: deps.Engine, Limiter: deps.RateLimiter}
	photos := PhotoHandler{Cache: deps.Photos}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/sync/start", sync.Start)
	mux.HandleFunc("/api/v1/sync/cancel", sync.Cancel)
	mux.HandleFunc("/api/v1/sync/reset", sync.Reset)
	mux.HandleFunc("/api/v1/sync/status", sync.Status)
	mux.HandleFunc("/api/v1/friends", friends.Collection)
	mux.HandleFunc("/api/v1/friends/groups", friends.Groups)
	mux.HandleFunc("/api/v1/groups", groups.Collection)
	mux.HandleFunc("/api/v1/groups/friends", groups.Friends)
	mux.HandleFunc("/api/v1/photos", photos.Get)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Engine      SyncEngine
	Photos      PhotoCache
	Warmer      PhotoWarmer
	RateLimiter RateLimiter
	Metrics     http.Handler
}
