package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.AppPort)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 100, cfg.Sync.FriendChunk)
	assert.Equal(t, 25, cfg.Sync.GroupChunk)
	assert.Equal(t, 350*time.Millisecond, cfg.Sync.Interval)
	assert.Equal(t, 15*time.Second, cfg.Sync.RequestTimeout)
	assert.Equal(t, 512, cfg.Photos.CacheSize)
	assert.True(t, cfg.RestoreOnStart)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MUTUALSYNC_PORT", "9000")
	t.Setenv("MUTUALSYNC_STORE_DRIVER", " SQLite ")
	t.Setenv("MUTUALSYNC_FRIEND_CHUNK", "50")
	t.Setenv("MUTUALSYNC_DISPATCH_INTERVAL", "1s")
	t.Setenv("MUTUALSYNC_OBJECT_STORE_BUCKET", "avatars")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.AppPort)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, 50, cfg.Sync.FriendChunk)
	assert.Equal(t, time.Second, cfg.Sync.Interval)
	assert.Equal(t, "avatars", cfg.ObjectStore.Bucket)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"store driver":  {"MUTUALSYNC_STORE_DRIVER": "redis"},
		"chunk size":    {"MUTUALSYNC_GROUP_CHUNK": "0"},
		"port":          {"MUTUALSYNC_PORT": "70000"},
		"not a number":  {"MUTUALSYNC_FRIEND_CHUNK": "lots"},
		"bad duration":  {"MUTUALSYNC_REQUEST_TIMEOUT": "soon"},
		"empty timeout": {"MUTUALSYNC_REQUEST_TIMEOUT": "0s"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
