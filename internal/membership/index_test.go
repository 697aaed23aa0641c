package membership

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func populate(x *Index, friends, groups []string) {
	for _, f := range friends {
		x.RegisterFriend(f)
	}
	for _, g := range groups {
		x.RegisterGroup(g)
	}
}

// assertSymmetric checks g ∈ friendGroups[f] ⟺ f ∈ groupFriends[g] and that
// counts agree from both sides.
func assertSymmetric(t *testing.T, x *Index) {
	t.Helper()
	for f, groups := range x.friendGroups {
		for g := range groups {
			_, ok := x.groupFriends[g][f]
			require.Truef(t, ok, "friend %s lists group %s but group does not list friend", f, g)
		}
		count := 0
		for _, friends := range x.groupFriends {
			if _, ok := friends[f]; ok {
				count++
			}
		}
		require.Equal(t, count, x.FriendCount(f), "count mismatch for %s", f)
	}
	for g, friends := range x.groupFriends {
		for f := range friends {
			_, ok := x.friendGroups[f][g]
			require.Truef(t, ok, "group %s lists friend %s but friend does not list group", g, f)
		}
	}
}

func TestMarkMemberIdempotent(t *testing.T) {
	x := newTestIndex(t)
	populate(x, []string{"alice"}, []string{"chess"})

	for i := 0; i < 5; i++ {
		require.NoError(t, x.MarkMember("alice", "chess"))
	}

	assert.Equal(t, []string{"chess"}, x.GroupsOf("alice"))
	assert.Equal(t, []string{"alice"}, x.FriendsIn("chess"))
	assert.Equal(t, 1, x.FriendCount("alice"))
	assert.Equal(t, 1, x.GroupCount("chess"))
	assertSymmetric(t, x)
}

func TestMarkMemberUnknownIDs(t *testing.T) {
	x := newTestIndex(t)
	populate(x, []string{"alice"}, []string{"chess"})

	err := x.MarkMember("bob", "chess")
	var inconsistent *InconsistentStateError
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, "friend", inconsistent.Missing)

	err = x.MarkMember("alice", "go")
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, "group", inconsistent.Missing)

	assert.False(t, x.HasFriend("bob"))
	assert.False(t, x.HasGroup("go"))
	assert.Zero(t, x.GroupCount("chess"))
	assert.Zero(t, x.FriendCount("alice"))
}

func TestRegisterKeepsMemberships(t *testing.T) {
	x := newTestIndex(t)
	populate(x, []string{"alice"}, []string{"chess"})
	require.NoError(t, x.MarkMember("alice", "chess"))

	x.RegisterFriend("alice")
	x.RegisterGroup("chess")

	assert.Equal(t, 1, x.FriendCount("alice"))
	assert.Equal(t, 1, x.GroupCount("chess"))
}

func TestRemoveFriend(t *testing.T) {
	x := newTestIndex(t)
	populate(x, []string{"alice", "bob"}, []string{"chess", "go"})
	require.NoError(t, x.MarkMember("alice", "chess"))
	require.NoError(t, x.MarkMember("alice", "go"))
	require.NoError(t, x.MarkMember("bob", "go"))

	require.True(t, x.RemoveFriend("alice"))
	require.False(t, x.RemoveFriend("alice"))

	assert.False(t, x.HasFriend("alice"))
	assert.Nil(t, x.FriendsIn("chess"))
	assert.Equal(t, []string{"bob"}, x.FriendsIn("go"))
	assert.True(t, x.HasGroup("chess"), "group entry must survive as an empty set")
	assertSymmetric(t, x)
}

func TestRemoveGroup(t *testing.T) {
	x := newTestIndex(t)
	populate(x, []string{"alice", "bob"}, []string{"chess", "go"})
	require.NoError(t, x.MarkMember("alice", "chess"))
	require.NoError(t, x.MarkMember("bob", "chess"))
	require.NoError(t, x.MarkMember("bob", "go"))

	require.True(t, x.RemoveGroup("chess"))
	require.False(t, x.RemoveGroup("chess"))

	assert.False(t, x.HasGroup("chess"))
	assert.Zero(t, x.FriendCount("alice"))
	assert.Equal(t, []string{"go"}, x.GroupsOf("bob"))
	_, present := x.Pairs()["chess"]
	assert.False(t, present)
	assertSymmetric(t, x)
}

func TestMergeOrderDoesNotMatter(t *testing.T) {
	friends := []string{"a", "b", "c", "d"}
	groups := []string{"g1", "g2", "g3"}
	pairs := [][2]string{{"a", "g1"}, {"b", "g1"}, {"c", "g2"}, {"a", "g3"}, {"d", "g3"}, {"a", "g1"}}

	forward := newTestIndex(t)
	populate(forward, friends, groups)
	for _, p := range pairs {
		require.NoError(t, forward.MarkMember(p[0], p[1]))
	}

	backward := newTestIndex(t)
	populate(backward, friends, groups)
	for i := len(pairs) - 1; i >= 0; i-- {
		require.NoError(t, backward.MarkMember(pairs[i][0], pairs[i][1]))
	}

	assert.Equal(t, forward.Pairs(), backward.Pairs())
	assertSymmetric(t, forward)
	assertSymmetric(t, backward)
}

func TestClear(t *testing.T) {
	x := newTestIndex(t)
	populate(x, []string{"alice"}, []string{"chess"})
	require.NoError(t, x.MarkMember("alice", "chess"))

	x.Clear()

	assert.Zero(t, x.Friends())
	assert.Zero(t, x.Groups())
	assert.Empty(t, x.Pairs())
}
