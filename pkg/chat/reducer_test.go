package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func msg(id, content string) Message {
	return Message{
		ID:            id,
		SenderAddress: "0xabc",
		Role:          RoleUser,
		Content:       content,
		CreatedAt:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func member(address string) Member {
	return Member{Address: address, Role: MemberMember}
}

func stateWith(ids ...string) State {
	var s State
	for i := len(ids) - 1; i >= 0; i-- {
		s = Reduce(s, AddChat{Chat: Chat{ID: ids[i], Name: "chat " + ids[i]}})
	}
	return s
}

func chatIDs(s State) []string {
	ids := make([]string, len(s.Chats))
	for i, c := range s.Chats {
		ids[i] = c.ID
	}
	return ids
}

func TestSetChatsReplaces(t *testing.T) {
	s := stateWith("a", "b")
	s = Reduce(s, SetChats{Chats: []Chat{{ID: "c"}, {ID: "d"}, {ID: "c", Name: "dup"}}})
	assert.Equal(t, []string{"c", "d"}, chatIDs(s))

	c, ok := s.Chat("c")
	require.True(t, ok)
	assert.Empty(t, c.Name)
}

func TestAddChatUpsertsAtHead(t *testing.T) {
	s := stateWith("a", "b", "c")
	assert.Equal(t, []string{"a", "b", "c"}, chatIDs(s))

	s = Reduce(s, AddMessage{ChatID: "b", Message: msg("m1", "hi")})
	s = Reduce(s, AddChat{Chat: Chat{ID: "b", Name: "renamed"}})
	assert.Equal(t, []string{"b", "a", "c"}, chatIDs(s))

	// Replaced, not merged
	b, _ := s.Chat("b")
	assert.Equal(t, "renamed", b.Name)
	assert.Empty(t, b.Messages)
}

func TestUpdateChat(t *testing.T) {
	s := stateWith("a")
	s = Reduce(s, UpdateChat{ID: "a", Patch: ChatPatch{Name: String("new"), IsEncrypted: Bool(true)}})

	a, _ := s.Chat("a")
	assert.Equal(t, "new", a.Name)
	assert.True(t, a.IsEncrypted)
	assert.Equal(t, VisibilityPublic, Reduce(s, UpdateChat{ID: "a", Patch: ChatPatch{Visibility: ptr(VisibilityPublic)}}).Chats[0].Visibility)
}

func ptr[T any](v T) *T { return &v }

func TestUnknownChatIsNoop(t *testing.T) {
	s := stateWith("a")
	s.ActiveChatID = "a"

	actions := []Action{
		UpdateChat{ID: "zz", Patch: ChatPatch{Name: String("x")}},
		RemoveChat{ID: "zz"},
		AddMessage{ChatID: "zz", Message: msg("m1", "hi")},
		UpdateMessage{ChatID: "zz", MessageID: "m1", Patch: MessagePatch{Content: String("x")}},
		ReplaceMessage{ChatID: "zz", OldID: "m1", Message: msg("m2", "x")},
		RemoveMessage{ChatID: "zz", MessageID: "m1"},
		SetMessages{ChatID: "zz", Messages: []Message{msg("m1", "hi")}},
		SetMembers{ChatID: "zz", Members: []Member{member("0x1")}},
		AddMember{ChatID: "zz", Member: member("0x1")},
		RemoveMember{ChatID: "zz", Address: "0x1"},
		ClearUnread{ChatID: "zz"},
		IncrementUnread{ChatID: "zz"},
	}

	for _, a := range actions {
		t.Run(fmt.Sprintf("%T", a), func(t *testing.T) {
			next, changed := a.reduce(s)
			assert.False(t, changed)
			assert.Equal(t, s, next)
		})
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := stateWith("a", "b")
	s = Reduce(s, AddMessage{ChatID: "a", Message: msg("m1", "hi")})
	before := Reduce(s, SetChats{Chats: s.Chats})

	_ = Reduce(s, UpdateMessage{ChatID: "a", MessageID: "m1", Patch: MessagePatch{Content: String("changed")}})
	_ = Reduce(s, AddMessage{ChatID: "a", Message: msg("m2", "more")})
	_ = Reduce(s, RemoveChat{ID: "b"})
	_ = Reduce(s, IncrementUnread{ChatID: "a"})

	assert.Equal(t, before.Chats, s.Chats)
}

func TestAddMessageKeepsFirst(t *testing.T) {
	s := stateWith("c1")
	s = Reduce(s, AddMessage{ChatID: "c1", Message: msg("m1", "first")})
	s = Reduce(s, AddMessage{ChatID: "c1", Message: msg("m1", "second")})

	c, _ := s.Chat("c1")
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "first", c.Messages[0].Content)
	assert.Equal(t, "c1", c.Messages[0].ChatID)
}

func TestUpdateMessageStreaming(t *testing.T) {
	s := stateWith("c1")
	m := msg("m1", "He")
	m.IsStreaming = true
	s = Reduce(s, AddMessage{ChatID: "c1", Message: m})

	s = Reduce(s, UpdateMessage{ChatID: "c1", MessageID: "m1", Patch: MessagePatch{Content: String("Hello")}})
	s = Reduce(s, UpdateMessage{ChatID: "c1", MessageID: "m1", Patch: MessagePatch{IsStreaming: Bool(false)}})

	c, _ := s.Chat("c1")
	assert.Equal(t, "Hello", c.Messages[0].Content)
	assert.False(t, c.Messages[0].IsStreaming)

	next, changed := UpdateMessage{ChatID: "c1", MessageID: "missing", Patch: MessagePatch{Content: String("x")}}.reduce(s)
	assert.False(t, changed)
	assert.Equal(t, s, next)
}

func TestReplaceMessage(t *testing.T) {
	s := stateWith("c1")
	s = Reduce(s, AddMessage{ChatID: "c1", Message: msg("m0", "before")})
	s = Reduce(s, AddMessage{ChatID: "c1", Message: msg("tmp", "pending")})
	s = Reduce(s, AddMessage{ChatID: "c1", Message: msg("m9", "after")})

	replaced := Reduce(s, ReplaceMessage{ChatID: "c1", OldID: "tmp", Message: msg("srv", "pending")})
	c, _ := replaced.Chat("c1")
	assert.Equal(t, []string{"m0", "srv", "m9"}, messageIDs(c))

	// The server copy already arrived over the channel
	echoed := Reduce(s, AddMessage{ChatID: "c1", Message: msg("srv", "pending")})
	echoed = Reduce(echoed, ReplaceMessage{ChatID: "c1", OldID: "tmp", Message: msg("srv", "pending")})
	c, _ = echoed.Chat("c1")
	assert.Equal(t, []string{"m0", "m9", "srv"}, messageIDs(c))
}

func messageIDs(c Chat) []string {
	ids := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		ids[i] = m.ID
	}
	return ids
}

func TestSetMessagesDedupes(t *testing.T) {
	s := stateWith("c1")
	s = Reduce(s, SetMessages{ChatID: "c1", Messages: []Message{msg("a", "1"), msg("b", "2"), msg("a", "3")}})

	c, _ := s.Chat("c1")
	assert.Equal(t, []string{"a", "b"}, messageIDs(c))
	assert.Equal(t, "1", c.Messages[0].Content)
}

func TestMembers(t *testing.T) {
	s := stateWith("c1")
	s = Reduce(s, SetMembers{ChatID: "c1", Members: []Member{member("0xA"), member("0xa"), member("0xb")}})
	c, _ := s.Chat("c1")
	assert.Len(t, c.Members, 2)

	s = Reduce(s, AddMember{ChatID: "c1", Member: member("0xB")})
	c, _ = s.Chat("c1")
	assert.Len(t, c.Members, 2)

	s = Reduce(s, AddMember{ChatID: "c1", Member: member("0xc")})
	s = Reduce(s, RemoveMember{ChatID: "c1", Address: "0xa"})
	c, _ = s.Chat("c1")
	require.Len(t, c.Members, 2)
	assert.Equal(t, "0xb", c.Members[0].Address)
	assert.Equal(t, "0xc", c.Members[1].Address)
}

// Arrival order decides membership; a join replayed after a leave wins
func TestMemberFramesApplyInArrivalOrder(t *testing.T) {
	s := stateWith("c1")
	s = Reduce(s, RemoveMember{ChatID: "c1", Address: "0xa"})
	s = Reduce(s, AddMember{ChatID: "c1", Member: member("0xa")})

	c, _ := s.Chat("c1")
	assert.Len(t, c.Members, 1)
}

func TestActiveChat(t *testing.T) {
	s := stateWith("a", "b")

	_, ok := s.ActiveChat()
	assert.False(t, ok)

	s = Reduce(s, SetActiveChat{ID: "b"})
	active, ok := s.ActiveChat()
	require.True(t, ok)
	assert.Equal(t, "b", active.ID)

	// Lookup is live, not cached
	s = Reduce(s, UpdateChat{ID: "b", Patch: ChatPatch{Name: String("fresh")}})
	active, _ = s.ActiveChat()
	assert.Equal(t, "fresh", active.Name)

	s = Reduce(s, SetActiveChat{ID: ""})
	assert.Empty(t, s.ActiveChatID)
}

func TestUnreadCounter(t *testing.T) {
	s := stateWith("c1")

	s = Reduce(s, IncrementUnread{ChatID: "c1"})
	c, _ := s.Chat("c1")
	assert.Equal(t, 1, c.UnreadCount)

	s = Reduce(s, IncrementUnread{ChatID: "c1"})
	s = Reduce(s, ClearUnread{ChatID: "c1"})
	c, _ = s.Chat("c1")
	assert.Equal(t, 0, c.UnreadCount)
}

// genAction draws a random action over a small id space so collisions are
// frequent
func genAction(t *rapid.T) Action {
	chatID := rapid.SampledFrom([]string{"a", "b", "c", "d"}).Draw(t, "chat")
	msgID := rapid.SampledFrom([]string{"m1", "m2", "m3"}).Draw(t, "msg")
	address := rapid.SampledFrom([]string{"0x1", "0x2", "0X1"}).Draw(t, "addr")
	content := rapid.StringN(0, 8, -1).Draw(t, "content")

	switch rapid.IntRange(0, 13).Draw(t, "kind") {
	case 0:
		return AddChat{Chat: Chat{ID: chatID}}
	case 1:
		return RemoveChat{ID: chatID}
	case 2:
		return SetActiveChat{ID: chatID}
	case 3:
		return AddMessage{ChatID: chatID, Message: msg(msgID, content)}
	case 4:
		return UpdateMessage{ChatID: chatID, MessageID: msgID, Patch: MessagePatch{Content: &content}}
	case 5:
		return SetMessages{ChatID: chatID, Messages: []Message{msg(msgID, content), msg(msgID, "dup")}}
	case 6:
		return AddMember{ChatID: chatID, Member: member(address)}
	case 7:
		return RemoveMember{ChatID: chatID, Address: address}
	case 8:
		return ClearUnread{ChatID: chatID}
	case 9:
		return IncrementUnread{ChatID: chatID}
	case 10:
		return UpdateChat{ID: chatID, Patch: ChatPatch{Name: &content}}
	case 11:
		return ReplaceMessage{ChatID: chatID, OldID: msgID, Message: msg("m1", content)}
	case 12:
		return RemoveMessage{ChatID: chatID, MessageID: msgID}
	default:
		return receiveMessage{ChatID: chatID, Message: msg(msgID, content)}
	}
}

// TestReducerInvariants checks, across random action sequences, that ids
// stay unique, counters stay non-negative and the active pointer never
// refers to a removed chat
func TestReducerInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var s State

		n := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < n; i++ {
			a := genAction(t)
			prev := s
			s = Reduce(s, a)

			if rm, ok := a.(RemoveChat); ok {
				if _, existed := prev.Chat(rm.ID); existed && prev.ActiveChatID == rm.ID && s.ActiveChatID != "" {
					t.Fatalf("active chat %q still set after removal", rm.ID)
				}
				if prev.ActiveChatID != rm.ID && s.ActiveChatID != prev.ActiveChatID {
					t.Fatalf("removing %q changed active chat from %q to %q", rm.ID, prev.ActiveChatID, s.ActiveChatID)
				}
			}

			chatSeen := map[string]bool{}
			for _, c := range s.Chats {
				if chatSeen[c.ID] {
					t.Fatalf("duplicate chat %q", c.ID)
				}
				chatSeen[c.ID] = true
				if c.UnreadCount < 0 {
					t.Fatalf("chat %q unread %d", c.ID, c.UnreadCount)
				}
				msgSeen := map[string]bool{}
				for _, m := range c.Messages {
					if msgSeen[m.ID] {
						t.Fatalf("duplicate message %q in chat %q", m.ID, c.ID)
					}
					msgSeen[m.ID] = true
				}
				for i, m := range c.Members {
					if memberIndex(c.Members[:i], m.Address) >= 0 {
						t.Fatalf("duplicate member %q in chat %q", m.Address, c.ID)
					}
				}
			}
		}
	})
}

func TestAddMessageIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringN(1, 12, -1).Draw(t, "id")
		first := rapid.String().Draw(t, "first")
		second := rapid.String().Draw(t, "second")

		s := stateWith("c1")
		s = Reduce(s, AddMessage{ChatID: "c1", Message: msg(id, first)})
		s = Reduce(s, AddMessage{ChatID: "c1", Message: msg(id, second)})

		c, _ := s.Chat("c1")
		if len(c.Messages) != 1 || c.Messages[0].Content != first {
			t.Fatalf("expected single first message, got %+v", c.Messages)
		}
	})
}

func TestAddMemberIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		address := rapid.StringMatching(`0x[0-9a-f]{1,40}`).Draw(t, "address")
		times := rapid.IntRange(1, 5).Draw(t, "times")

		s := stateWith("c1")
		for i := 0; i < times; i++ {
			s = Reduce(s, AddMember{ChatID: "c1", Member: member(address)})
		}

		c, _ := s.Chat("c1")
		if len(c.Members) != 1 {
			t.Fatalf("expected one member, got %d", len(c.Members))
		}
	})
}

func TestUnreadProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := stateWith("c1")
		bumps := rapid.IntRange(0, 20).Draw(t, "bumps")
		for i := 0; i < bumps; i++ {
			s = Reduce(s, IncrementUnread{ChatID: "c1"})
		}
		c, _ := s.Chat("c1")
		if c.UnreadCount != bumps {
			t.Fatalf("unread %d after %d increments", c.UnreadCount, bumps)
		}

		s = Reduce(s, ClearUnread{ChatID: "c1"})
		c, _ = s.Chat("c1")
		if c.UnreadCount != 0 {
			t.Fatalf("unread %d after clear", c.UnreadCount)
		}
	})
}
