package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestState(t *testing.T, path string) *State {
	t.Helper()
	s, err := OpenState(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateConfig(t *testing.T) {
	s := openTestState(t, filepath.Join(t.TempDir(), "state.db"))

	val, err := s.GetConfig("missing")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetConfig("theme", "dark"))
	require.NoError(t, s.SetConfig("theme", "light"))
	val, err = s.GetConfig("theme")
	require.NoError(t, err)
	assert.Equal(t, "light", val)
}

func TestStateSessionID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s := openTestState(t, path)

	assert.Empty(t, s.GetSessionID())
	require.NoError(t, s.SetSessionID("sess-1"))
	assert.Equal(t, "sess-1", s.GetSessionID())
	assert.Equal(t, filepath.Dir(path), s.GetStateDir())

	// Survives reopening
	require.NoError(t, s.Close())
	reopened := openTestState(t, path)
	assert.Equal(t, "sess-1", reopened.GetSessionID())
}

func TestStateAuth(t *testing.T) {
	s := openTestState(t, filepath.Join(t.TempDir(), "state.db"))

	auth, err := s.LoadAuth()
	require.NoError(t, err)
	assert.Equal(t, AuthState{}, auth)

	require.NoError(t, s.SaveAuth(AuthState{Token: "tok", Address: "0xabc"}))
	auth, err = s.LoadAuth()
	require.NoError(t, err)
	assert.Equal(t, AuthState{Token: "tok", Address: "0xabc"}, auth)

	require.NoError(t, s.ClearAuth())
	auth, err = s.LoadAuth()
	require.NoError(t, err)
	assert.Equal(t, AuthState{}, auth)
}

func TestStateSnapshotWrapper(t *testing.T) {
	s := openTestState(t, filepath.Join(t.TempDir(), "state.db"))

	type payload struct {
		Chats        []string `json:"chats"`
		ActiveChatID *string  `json:"activeChatId"`
	}

	var got payload
	found, err := s.LoadSnapshot(ChatStorageKey, &got)
	require.NoError(t, err)
	assert.False(t, found)

	active := "c1"
	require.NoError(t, s.SaveSnapshot(ChatStorageKey, payload{Chats: []string{"c1"}, ActiveChatID: &active}))

	var raw string
	require.NoError(t, s.db.QueryRow("SELECT value FROM Storage WHERE key = ?", ChatStorageKey).Scan(&raw))
	assert.JSONEq(t, `{"state":{"chats":["c1"],"activeChatId":"c1"},"version":0}`, raw)

	found, err = s.LoadSnapshot(ChatStorageKey, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"c1"}, got.Chats)
	require.NotNil(t, got.ActiveChatID)
	assert.Equal(t, "c1", *got.ActiveChatID)
}

func TestStateSnapshotCorrupt(t *testing.T) {
	s := openTestState(t, filepath.Join(t.TempDir(), "state.db"))

	_, err := s.db.Exec(`INSERT INTO Storage (key, value, updated_at) VALUES (?, ?, 0)`, ChatStorageKey, "{broken")
	require.NoError(t, err)

	var v map[string]any
	_, err = s.LoadSnapshot(ChatStorageKey, &v)
	assert.Error(t, err)
}

func TestStateRevisionCounts(t *testing.T) {
	s := openTestState(t, filepath.Join(t.TempDir(), "state.db"))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveSnapshot("k", i))
	}
	revision, writer, err := s.revision("k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), revision)
	assert.Equal(t, s.writer, writer)
}

func TestStateWatchSeesOtherWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	local := openTestState(t, path)
	remote := openTestState(t, path)

	var changes atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		local.Watch(ctx, ChatStorageKey, 10*time.Millisecond, func() { changes.Add(1) })
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Own writes are not reported
	require.NoError(t, local.SaveSnapshot(ChatStorageKey, map[string]int{"n": 1}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), changes.Load())

	require.NoError(t, remote.SaveSnapshot(ChatStorageKey, map[string]int{"n": 2}))
	require.Eventually(t, func() bool { return changes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	var got map[string]int
	found, err := local.LoadSnapshot(ChatStorageKey, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, got["n"])
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := openTestState(t, filepath.Join(t.TempDir(), "state.db"))

	require.NoError(t, runMigrations(s.db))

	var version int
	require.NoError(t, s.db.QueryRow("SELECT MAX(version) FROM SchemaVersion").Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestMockStateMatchesWrapper(t *testing.T) {
	s := NewMockState()

	require.NoError(t, s.SaveAuth(AuthState{Token: "tok"}))
	var wrapped map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(s.RawSnapshot(AuthStorageKey), &wrapped))
	assert.JSONEq(t, `{"token":"tok"}`, string(wrapped["state"]))
	assert.JSONEq(t, `0`, string(wrapped["version"]))

	auth, err := s.LoadAuth()
	require.NoError(t, err)
	assert.Equal(t, "tok", auth.Token)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notified := make(chan struct{}, 1)
	go s.Watch(ctx, ChatStorageKey, 0, func() { notified <- struct{}{} })

	require.NoError(t, s.SimulateExternalWrite(ChatStorageKey, []int{1}))
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("watch was not notified")
	}
}
