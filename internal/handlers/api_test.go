package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfriends/mutualsync/internal/engine"
	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/photos"
	"github.com/vidfriends/mutualsync/internal/planner"
	"github.com/vidfriends/mutualsync/internal/remote"
)

type graphStub struct {
	friends []models.Person
	groups  []models.Group
	members map[string][]string
	failFor string
}

func (g *graphStub) FetchFriends(context.Context) ([]models.Person, error) { return g.friends, nil }
func (g *graphStub) FetchGroups(context.Context) ([]models.Group, error)   { return g.groups, nil }

func (g *graphStub) FetchMembershipBatch(_ context.Context, req remote.BatchRequest) (models.MembershipBatch, error) {
	want := make(map[string]bool, len(req.FriendIDs))
	for _, id := range req.FriendIDs {
		want[id] = true
	}
	out := make(models.MembershipBatch)
	for _, groupID := range req.GroupIDs {
		if groupID == g.failFor {
			return nil, errors.New("upstream unavailable")
		}
		for _, friendID := range g.members[groupID] {
			if want[friendID] {
				out[groupID] = append(out[groupID], friendID)
			}
		}
	}
	return out, nil
}

func newGraph() *graphStub {
	return &graphStub{
		friends: []models.Person{
			{ID: "u1", FirstName: "Noor", LastName: "Haddad", PhotoRef: "p/u1.jpg"},
			{ID: "u2", FirstName: "Ines", LastName: "Moreau"},
			{ID: "u3", FirstName: "Kai", LastName: "Tanaka", PhotoRef: "p/u3.jpg"},
		},
		groups: []models.Group{
			{ID: "g1", Name: "Climbing", PhotoRef: "p/g1.jpg"},
			{ID: "g2", Name: "Film club"},
		},
		members: map[string][]string{
			"g1": {"u1", "u3"},
			"g2": {"u3"},
		},
	}
}

type warmerStub struct {
	mu   sync.Mutex
	refs []string
}

func (w *warmerStub) Warm(refs []string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refs = append(w.refs, refs...)
	return len(refs)
}

func (w *warmerStub) warmed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.refs...)
}

type photoStub map[string][]byte

func (p photoStub) Get(_ context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, photos.ErrInvalidRef
	}
	data, ok := p[ref]
	if !ok {
		return nil, photos.ErrNotFound
	}
	return data, nil
}

func (p photoStub) Purge() { clear(p) }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func newTestAPI(t *testing.T, graph *graphStub) (http.Handler, *engine.Coordinator, *warmerStub) {
	t.Helper()
	coord := engine.New(graph, nil, engine.Options{
		Planner: planner.Config{FriendChunk: 2, GroupChunk: 2, RequestTimeout: time.Second},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	warmer := &warmerStub{}
	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{
		Engine: coord,
		Photos: photoStub{"p/u1.jpg": []byte("\xff\xd8\xff\xe0 jpeg")},
		Warmer: warmer,
	})
	return mux, coord, warmer
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func syncAndWait(t *testing.T, h http.Handler, coord *engine.Coordinator) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/sync/start", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, coord.Wait(ctx))
}

func TestSyncLifecycleOverHTTP(t *testing.T) {
	h, coord, warmer := newTestAPI(t, newGraph())

	rec := do(t, h, http.MethodGet, "/api/v1/friends/groups?id=u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	syncAndWait(t, h, coord)

	rec = do(t, h, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "finished", st["state"])
	assert.EqualValues(t, 3, st["friends"])

	require.Eventually(t, func() bool { return len(warmer.warmed()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"p/u1.jpg", "p/u3.jpg", "p/g1.jpg"}, warmer.warmed())

	rec = do(t, h, http.MethodPost, "/api/v1/sync/cancel", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, engine.StateFinished, coord.State())

	rec = do(t, h, http.MethodGet, "/api/v1/sync/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/photos?ref=p/u1.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sync/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/photos?ref=p/u1.jpg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "avatars are forgotten on reset")
	assert.Equal(t, engine.StateIdle, coord.State())
	rec = do(t, h, http.MethodGet, "/api/v1/friends/groups?id=u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFriendAndGroupViews(t *testing.T) {
	h, coord, _ := newTestAPI(t, newGraph())
	syncAndWait(t, h, coord)

	var friends friendsResponse
	rec := do(t, h, http.MethodGet, "/api/v1/friends", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &friends))
	assert.Equal(t, "alphabet", friends.Order)
	assert.Equal(t, []string{"u2", "u3", "u1"}, ids(friends.Friends))

	rec = do(t, h, http.MethodGet, "/api/v1/friends?order=mutual", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &friends))
	assert.Equal(t, []string{"u3", "u1", "u2"}, ids(friends.Friends))

	rec = do(t, h, http.MethodGet, "/api/v1/friends?order=shoe-size", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var groups groupsResponse
	rec = do(t, h, http.MethodGet, "/api/v1/groups?order=friends", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	assert.Equal(t, "friends", groups.Order)
	assert.Equal(t, "g1", groups.Groups[0].ID)

	rec = do(t, h, http.MethodGet, "/api/v1/groups/friends?id=g1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members struct {
		Friends []models.Person `json:"friends"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
	assert.Equal(t, []string{"u3", "u1"}, ids(members.Friends))

	rec = do(t, h, http.MethodGet, "/api/v1/friends/groups?id=u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"friendId":"u2","groups":[]}`, rec.Body.String())
}

func TestIncrementalChangesOverHTTP(t *testing.T) {
	graph := newGraph()
	h, coord, _ := newTestAPI(t, graph)

	rec := do(t, h, http.MethodPost, "/api/v1/friends", models.Person{ID: "u4", FirstName: "Ada"})
	assert.Equal(t, http.StatusConflict, rec.Code, "not ready before the first sync")

	syncAndWait(t, h, coord)
	graph.members["g2"] = append(graph.members["g2"], "u4")

	rec = do(t, h, http.MethodPost, "/api/v1/friends", models.Person{ID: "u4", FirstName: "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	groups, err := coord.MutualGroupsOf("u4")
	require.NoError(t, err)
	assert.Equal(t, "g2", groups[0].ID)

	rec = do(t, h, http.MethodPost, "/api/v1/friends", models.Person{ID: "u4"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/friends", models.Person{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/groups", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	graph.failFor = "g3"
	rec = do(t, h, http.MethodPost, "/api/v1/groups", models.Group{ID: "g3", Name: "Chess"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	_, err = coord.FriendsIn("g3")
	assert.ErrorIs(t, err, engine.ErrUnknownGroup)

	rec = do(t, h, http.MethodDelete, "/api/v1/friends?id=u3", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/friends?id=u3", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/groups?id=g2", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/groups", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, "/api/v1/groups", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	coord := engine.New(newGraph(), nil, engine.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{Engine: coord, RateLimiter: denyAll{}})

	for _, target := range []string{"/api/v1/sync/start", "/api/v1/friends", "/api/v1/groups"} {
		rec := do(t, mux, http.MethodPost, target, models.Group{ID: "x"})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, target)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"), target)
	}
	rec := do(t, mux, http.MethodGet, "/api/v1/friends", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.StateIdle, coord.State())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))

	req.Header.Set("X-Forwarded-For", " ")
	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientIP(req))
}

func TestPhotoHandler(t *testing.T) {
	h, _, _ := newTestAPI(t, newGraph())

	rec := do(t, h, http.MethodGet, "/api/v1/photos?ref=p/u1.jpg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodGet, "/api/v1/photos?ref=p/none.jpg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/photos", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, http.HandlerFunc(PhotoHandler{}.Get), http.MethodGet, "/api/v1/photos?ref=a", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRespondErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrAlreadyRunning, http.StatusConflict},
		{engine.ErrNotReady, http.StatusConflict},
		{engine.ErrInvalidID, http.StatusBadRequest},
		{engine.ErrUnknownGroup, http.StatusNotFound},
		{&remote.ParseError{Op: "x", Err: errors.New("bad")}, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		respondError(context.Background(), rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func ids(people []models.Person) []string {
	out := make([]string, len(people))
	for i, p := range people {
		out[i] = p.ID
	}
	return out
}
