package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfriends/mutualsync/internal/models"
	"github.com/vidfriends/mutualsync/internal/ordering"
)

// gatedStore holds one selected write until release is closed.
type gatedStore struct {
	*fakeStore
	blockFriends atomic.Bool
	// blockMembershipAt is the 1-based SaveMembership call to hold; 0 holds none.
	blockMembershipAt int32
	membershipCalls   atomic.Int32

	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		fakeStore: &fakeStore{},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (s *gatedStore) hold() {
	close(s.entered)
	<-s.release
}

func (s *gatedStore) SaveFriends(ctx context.Context, friends []models.Person) error {
	if s.blockFriends.CompareAndSwap(true, false) {
		s.hold()
	}
	return s.fakeStore.SaveFriends(ctx, friends)
}

func (s *gatedStore) SaveMembership(ctx context.Context, batch models.MembershipBatch) error {
	if s.membershipCalls.Add(1) == s.blockMembershipAt {
		s.hold()
	}
	return s.fakeStore.SaveMembership(ctx, batch)
}

func (s *gatedStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("store write never started")
	}
}

// holdBatches makes membership requests block until the returned channel is
// closed.
func (f *fakeRemote) holdBatches() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchGate = make(chan struct{})
	return f.batchGate
}

func waitErr(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not return")
		return nil
	}
}

func TestClearIsNotUndoneByInFlightWrite(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore()
	c := newCoordinator(newFixture(), store)
	runSync(t, c)
	store.blockFriends.Store(true)

	removed := make(chan error, 1)
	go func() { removed <- c.RemoveFriend(ctx, "f-dan") }()
	store.waitEntered(t)

	cleared := make(chan error, 1)
	go func() { cleared <- c.Clear(ctx) }()
	require.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, time.Millisecond)
	close(store.release)

	require.NoError(t, waitErr(t, removed))
	require.NoError(t, waitErr(t, cleared))
	assert.True(t, store.snapshot().Empty())

	restored, err := c.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, StateIdle, c.State())
}

func TestAddDiscardedWhenResetMidFetch(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		reset func(t *testing.T, c *Coordinator) <-chan Event
	}{
		{
			name: "clear",
			reset: func(t *testing.T, c *Coordinator) <-chan Event {
				require.NoError(t, c.Clear(ctx))
				return nil
			},
		},
		{
			name: "new sync",
			reset: func(t *testing.T, c *Coordinator) <-chan Event {
				events, err := c.Start(ctx)
				require.NoError(t, err)
				return events
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFixture()
			store := &fakeStore{}
			c := newCoordinator(svc, store)
			runSync(t, c)

			svc.members["g-chess"] = append(svc.members["g-chess"], "f-erin")
			gate := svc.holdBatches()
			before := svc.calls()

			added := make(chan error, 1)
			go func() { added <- c.AddFriend(ctx, models.Person{ID: "f-erin", FirstName: "Erin"}) }()
			require.Eventually(t, func() bool { return svc.calls() > before }, time.Second, time.Millisecond)

			events := tt.reset(t, c)
			close(gate)

			assert.ErrorIs(t, waitErr(t, added), ErrNotReady)
			if events != nil {
				drain(t, events)
			}
			assert.NotContains(t, personIDs(c.Friends(ordering.FriendsByAlphabet)), "f-erin")
			assert.NotContains(t, personIDs(store.snapshot().Friends), "f-erin")
		})
	}
}

func TestAddSkipsIDsRemovedMidFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("group removed", func(t *testing.T) {
		svc := newFixture()
		c := newCoordinator(svc, nil)
		runSync(t, c)

		svc.members["g-chess"] = append(svc.members["g-chess"], "f-erin")
		svc.members["g-hiking"] = append(svc.members["g-hiking"], "f-erin")
		gate := svc.holdBatches()
		before := svc.calls()

		added := make(chan error, 1)
		go func() { added <- c.AddFriend(ctx, models.Person{ID: "f-erin", FirstName: "Erin"}) }()
		require.Eventually(t, func() bool { return svc.calls() > before }, time.Second, time.Millisecond)

		require.NoError(t, c.RemoveGroup(ctx, "g-chess"))
		close(gate)
		require.NoError(t, waitErr(t, added))

		groups, err := c.MutualGroupsOf("f-erin")
		require.NoError(t, err)
		assert.Equal(t, []string{"g-hiking"}, groupIDs(groups))
		_, err = c.FriendsIn("g-chess")
		assert.ErrorIs(t, err, ErrUnknownGroup)
	})

	t.Run("friend removed", func(t *testing.T) {
		svc := newFixture()
		c := newCoordinator(svc, nil)
		runSync(t, c)

		svc.members["g-film"] = []string{"f-bob", "f-dan"}
		gate := svc.holdBatches()
		before := svc.calls()

		added := make(chan error, 1)
		go func() { added <- c.AddGroup(ctx, models.Group{ID: "g-film", Name: "Film"}) }()
		require.Eventually(t, func() bool { return svc.calls() > before }, time.Second, time.Millisecond)

		require.NoError(t, c.RemoveFriend(ctx, "f-dan"))
		close(gate)
		require.NoError(t, waitErr(t, added))

		members, err := c.FriendsIn("g-film")
		require.NoError(t, err)
		assert.Equal(t, []string{"f-bob"}, personIDs(members))
		_, err = c.MutualGroupsOf("f-dan")
		assert.ErrorIs(t, err, ErrUnknownFriend)
	})
}

func TestCancelAfterLastBatchLandsStillCancels(t *testing.T) {
	store := newGatedStore()
	// 4 friends and 3 groups in chunks of 2 make 4 batches; hold the write
	// that follows the last merge.
	store.blockMembershipAt = 4
	c := newCoordinator(newFixture(), store)

	events, err := c.Start(context.Background())
	require.NoError(t, err)
	store.waitEntered(t)

	st := c.Status()
	require.Equal(t, StateComputingMutual, st.State)
	require.Equal(t, 4, st.Completed)
	require.Equal(t, 4, st.Total)

	c.Cancel()
	close(store.release)

	got := drain(t, events)
	assert.Empty(t, kinds(got, EventCompleted))
	assert.Empty(t, kinds(got, EventError))
	ph := phases(got)
	require.NotEmpty(t, ph)
	assert.Equal(t, StateIdle, ph[len(ph)-1])

	assert.ErrorIs(t, c.Wait(context.Background()), ErrCancelled)
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.Friends(ordering.FriendsByAlphabet))
	assert.True(t, store.snapshot().Empty())
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestStateGaugeIsPerCoordinator(t *testing.T) {
	a := New(newFixture(), nil, Options{Name: "gauge-a", Logger: quietLogger()})
	b := New(newFixture(), nil, Options{Name: "gauge-b", Logger: quietLogger()})

	runSync(t, a)

	assert.Equal(t, float64(StateFinished), gaugeValue(t, a.stateMetric))
	assert.Equal(t, float64(StateIdle), gaugeValue(t, b.stateMetric))
}
