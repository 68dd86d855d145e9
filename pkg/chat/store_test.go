package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juicebox/juicechat/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreOperations(t *testing.T) {
	s := NewStore()

	s.SetChats([]Chat{{ID: "a"}, {ID: "b"}})
	s.AddChat(Chat{ID: "c", Name: "new"})
	assert.Equal(t, []string{"c", "a", "b"}, chatIDs(s.Snapshot()))

	s.SetActiveChat("a")
	active, ok := s.GetActiveChat()
	require.True(t, ok)
	assert.Equal(t, "a", active.ID)

	s.AddMessage("a", msg("m1", "hi"))
	s.AddMessage("a", msg("m1", "again"))
	s.UpdateMessage("a", "m1", MessagePatch{Content: String("edited")})
	s.SetMembers("a", []Member{member("0x1")})
	s.AddMember("a", member("0x2"))
	s.AddMember("a", member("0x2"))
	s.RemoveMember("a", "0x1")
	s.IncrementUnread("b")
	s.IncrementUnread("b")
	s.UpdateChat("b", ChatPatch{Description: String("desc")})

	a, _ := s.GetChat("a")
	require.Len(t, a.Messages, 1)
	assert.Equal(t, "edited", a.Messages[0].Content)
	require.Len(t, a.Members, 1)
	assert.Equal(t, "0x2", a.Members[0].Address)

	b, _ := s.GetChat("b")
	assert.Equal(t, 2, b.UnreadCount)
	assert.Equal(t, "desc", b.Description)
	s.ClearUnread("b")
	b, _ = s.GetChat("b")
	assert.Equal(t, 0, b.UnreadCount)

	s.SetMessages("a", nil)
	a, _ = s.GetChat("a")
	assert.Empty(t, a.Messages)

	s.RemoveChat("a")
	_, ok = s.GetActiveChat()
	assert.False(t, ok)
	assert.Empty(t, s.Snapshot().ActiveChatID)

	s.SetActiveChat("b")
	s.RemoveChat("c")
	assert.Equal(t, "b", s.Snapshot().ActiveChatID)
}

func TestStoreNotifiesOnlyOnChange(t *testing.T) {
	s := NewStore()
	var notified []State
	unsubscribe := s.Subscribe(func(st State) { notified = append(notified, st) })

	s.AddChat(Chat{ID: "a"})
	s.AddMessage("a", msg("m1", "hi"))
	s.AddMessage("a", msg("m1", "hi"))
	s.AddMessage("missing", msg("m1", "hi"))
	s.ClearUnread("a")

	require.Len(t, notified, 2)
	c, _ := notified[1].Chat("a")
	assert.Len(t, c.Messages, 1)

	unsubscribe()
	s.RemoveChat("a")
	assert.Len(t, notified, 2)
}

func TestStoreNotifiesInOrderUnderConcurrentDispatch(t *testing.T) {
	s := NewStore()
	s.AddChat(Chat{ID: "a"})

	var seen []int
	s.Subscribe(func(st State) {
		c, _ := st.Chat("a")
		seen = append(seen, len(c.Messages))
	})

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.AddMessage("a", msg(fmt.Sprintf("m-%d-%d", w, i), "hi"))
			}
		}(w)
	}
	wg.Wait()

	// Each message grows the chat, so a stale snapshot would show a smaller count
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		require.Greater(t, seen[i], seen[i-1], "snapshot %d went backwards", i)
	}
	assert.Equal(t, writers*perWriter, seen[len(seen)-1])
}

func TestStorePersistsSnapshot(t *testing.T) {
	state := client.NewMockState()
	s := NewStore()
	s.SetPersister(state)

	s.AddChat(Chat{ID: "c1", Name: "general"})
	raw := state.RawSnapshot(StorageKey)

	var wrapped struct {
		State   map[string]json.RawMessage `json:"state"`
		Version int                        `json:"version"`
	}
	require.NoError(t, json.Unmarshal(raw, &wrapped))
	assert.Equal(t, 0, wrapped.Version)
	assert.JSONEq(t, `null`, string(wrapped.State["activeChatId"]))
	assert.Contains(t, string(wrapped.State["chats"]), `"id":"c1"`)

	s.SetActiveChat("c1")
	s.AddMessage("c1", msg("m1", "hi"))

	restored := NewStore()
	restored.SetPersister(state)
	require.NoError(t, restored.Load())

	snap := restored.Snapshot()
	assert.Equal(t, "c1", snap.ActiveChatID)
	c, ok := snap.Chat("c1")
	require.True(t, ok)
	assert.Equal(t, "general", c.Name)
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "hi", c.Messages[0].Content)
}

func TestStoreLoadWithoutSnapshot(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load())

	s.SetPersister(client.NewMockState())
	require.NoError(t, s.Load())
	assert.Empty(t, s.Snapshot().Chats)
}

func TestStorePersistFailureIsNotFatal(t *testing.T) {
	state := client.NewMockState()
	state.SetSaveSnapshotError(assert.AnError)

	s := NewStore()
	s.SetPersister(state)
	s.AddChat(Chat{ID: "a"})

	_, ok := s.GetChat("a")
	assert.True(t, ok)
}

func TestStoreRehydrateFromOtherProcess(t *testing.T) {
	state := client.NewMockState()
	s := NewStore()
	s.SetPersister(state)
	s.AddChat(Chat{ID: "mine"})

	rehydrated := make(chan State, 1)
	s.Subscribe(func(st State) { rehydrated <- st })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go state.Watch(ctx, StorageKey, time.Millisecond, func() {
		assert.NoError(t, s.Rehydrate())
	})

	other := "theirs"
	require.NoError(t, state.SimulateExternalWrite(StorageKey, persisted{
		Chats:        []Chat{{ID: "theirs"}, {ID: "mine"}},
		ActiveChatID: &other,
	}))

	select {
	case st := <-rehydrated:
		assert.Equal(t, []string{"theirs", "mine"}, chatIDs(st))
		assert.Equal(t, "theirs", st.ActiveChatID)
	case <-time.After(2 * time.Second):
		t.Fatal("store was not rehydrated")
	}
}

func TestStoreWithSQLiteState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	first, err := client.OpenState(path)
	require.NoError(t, err)
	defer first.Close()
	second, err := client.OpenState(path)
	require.NoError(t, err)
	defer second.Close()

	writer := NewStore()
	writer.SetPersister(first)
	reader := NewStore()
	reader.SetPersister(second)
	require.NoError(t, reader.Load())

	var rehydrations atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		second.Watch(ctx, StorageKey, 10*time.Millisecond, func() {
			if reader.Rehydrate() == nil {
				rehydrations.Add(1)
			}
		})
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Let the watcher record its baseline before the first write
	time.Sleep(30 * time.Millisecond)
	writer.AddChat(Chat{ID: "c1", Name: "shared"})

	require.Eventually(t, func() bool {
		_, ok := reader.GetChat("c1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, rehydrations.Load(), int32(1))
}
