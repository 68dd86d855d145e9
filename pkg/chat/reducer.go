package chat

import "strings"

// State is an immutable snapshot of every chat the client knows about.
// Reduce never modifies its input; changed chats are copied.
type State struct {
	Chats        []Chat
	ActiveChatID string // empty when no chat is active
}

// Chat returns the chat with the given id
func (s State) Chat(id string) (Chat, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Chats[i], true
	}
	return Chat{}, false
}

// ActiveChat looks up the active chat on every call
func (s State) ActiveChat() (Chat, bool) {
	if s.ActiveChatID == "" {
		return Chat{}, false
	}
	return s.Chat(s.ActiveChatID)
}

func (s State) indexOf(id string) int {
	for i := range s.Chats {
		if s.Chats[i].ID == id {
			return i
		}
	}
	return -1
}

// Action is one store mutation
type Action interface {
	reduce(s State) (State, bool)
}

// Reduce applies a to s. Actions that target an unknown chat return s
// unchanged.
func Reduce(s State, a Action) State {
	next, _ := a.reduce(s)
	return next
}

// withChat copies s and replaces the chat with the given id by f(chat).
// It reports false, leaving s untouched, when the id is unknown.
func withChat(s State, id string, f func(Chat) (Chat, bool)) (State, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return s, false
	}
	updated, changed := f(s.Chats[i])
	if !changed {
		return s, false
	}
	chats := make([]Chat, len(s.Chats))
	copy(chats, s.Chats)
	chats[i] = updated
	s.Chats = chats
	return s, true
}

// SetChats replaces the whole chat list. Duplicate ids keep the first entry.
type SetChats struct {
	Chats []Chat
}

func (a SetChats) reduce(s State) (State, bool) {
	seen := make(map[string]bool, len(a.Chats))
	chats := make([]Chat, 0, len(a.Chats))
	for _, c := range a.Chats {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		chats = append(chats, normalizeChat(c))
	}
	s.Chats = chats
	return s, true
}

// AddChat inserts a chat at the head of the list, replacing and moving any
// chat with the same id.
type AddChat struct {
	Chat Chat
}

func (a AddChat) reduce(s State) (State, bool) {
	chats := make([]Chat, 0, len(s.Chats)+1)
	chats = append(chats, normalizeChat(a.Chat))
	for _, c := range s.Chats {
		if c.ID != a.Chat.ID {
			chats = append(chats, c)
		}
	}
	s.Chats = chats
	return s, true
}

// UpdateChat shallow-merges Patch into the chat
type UpdateChat struct {
	ID    string
	Patch ChatPatch
}

func (a UpdateChat) reduce(s State) (State, bool) {
	return withChat(s, a.ID, func(c Chat) (Chat, bool) {
		return a.Patch.apply(c), true
	})
}

// RemoveChat deletes a chat and clears the active pointer if it pointed there
type RemoveChat struct {
	ID string
}

func (a RemoveChat) reduce(s State) (State, bool) {
	i := s.indexOf(a.ID)
	if i < 0 {
		return s, false
	}
	chats := make([]Chat, 0, len(s.Chats)-1)
	chats = append(chats, s.Chats[:i]...)
	chats = append(chats, s.Chats[i+1:]...)
	s.Chats = chats
	if s.ActiveChatID == a.ID {
		s.ActiveChatID = ""
	}
	return s, true
}

// SetActiveChat moves the active pointer; an empty ID clears it
type SetActiveChat struct {
	ID string
}

func (a SetActiveChat) reduce(s State) (State, bool) {
	if s.ActiveChatID == a.ID {
		return s, false
	}
	s.ActiveChatID = a.ID
	return s, true
}

// AddMessage appends a message unless one with the same id is already present
type AddMessage struct {
	ChatID  string
	Message Message
}

func (a AddMessage) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		if messageIndex(c.Messages, a.Message.ID) >= 0 {
			return c, false
		}
		m := a.Message
		if m.ChatID == "" {
			m.ChatID = c.ID
		}
		messages := make([]Message, len(c.Messages), len(c.Messages)+1)
		copy(messages, c.Messages)
		c.Messages = append(messages, m)
		return c, true
	})
}

// UpdateMessage shallow-merges Patch into the message with MessageID
type UpdateMessage struct {
	ChatID    string
	MessageID string
	Patch     MessagePatch
}

func (a UpdateMessage) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		i := messageIndex(c.Messages, a.MessageID)
		if i < 0 {
			return c, false
		}
		messages := make([]Message, len(c.Messages))
		copy(messages, c.Messages)
		messages[i] = a.Patch.apply(messages[i])
		c.Messages = messages
		return c, true
	})
}

// ReplaceMessage swaps the message with OldID for Message, keeping its
// position. If Message's id is already present (for instance delivered by
// the channel first) the old entry is dropped instead.
type ReplaceMessage struct {
	ChatID  string
	OldID   string
	Message Message
}

func (a ReplaceMessage) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		old := messageIndex(c.Messages, a.OldID)
		if old < 0 {
			return c, false
		}
		m := a.Message
		if m.ChatID == "" {
			m.ChatID = c.ID
		}

		messages := make([]Message, 0, len(c.Messages))
		existing := a.Message.ID != a.OldID && messageIndex(c.Messages, a.Message.ID) >= 0
		for i, msg := range c.Messages {
			switch {
			case i != old:
				messages = append(messages, msg)
			case !existing:
				messages = append(messages, m)
			}
		}
		c.Messages = messages
		return c, true
	})
}

// RemoveMessage deletes a message, e.g. a failed optimistic send
type RemoveMessage struct {
	ChatID    string
	MessageID string
}

func (a RemoveMessage) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		i := messageIndex(c.Messages, a.MessageID)
		if i < 0 {
			return c, false
		}
		messages := make([]Message, 0, len(c.Messages)-1)
		messages = append(messages, c.Messages[:i]...)
		c.Messages = append(messages, c.Messages[i+1:]...)
		return c, true
	})
}

// SetMessages replaces a chat's history. Duplicate ids keep the first entry.
type SetMessages struct {
	ChatID   string
	Messages []Message
}

func (a SetMessages) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		c.Messages = dedupeMessages(c.ID, a.Messages)
		return c, true
	})
}

// SetMembers replaces a chat's member set. Duplicate addresses keep the
// first entry.
type SetMembers struct {
	ChatID  string
	Members []Member
}

func (a SetMembers) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		c.Members = dedupeMembers(a.Members)
		return c, true
	})
}

// AddMember appends a member unless one with the same address is present.
// Addresses compare case-insensitively.
type AddMember struct {
	ChatID string
	Member Member
}

func (a AddMember) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		if memberIndex(c.Members, a.Member.Address) >= 0 {
			return c, false
		}
		members := make([]Member, len(c.Members), len(c.Members)+1)
		copy(members, c.Members)
		c.Members = append(members, a.Member)
		return c, true
	})
}

// RemoveMember deletes the member with Address
type RemoveMember struct {
	ChatID  string
	Address string
}

func (a RemoveMember) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		i := memberIndex(c.Members, a.Address)
		if i < 0 {
			return c, false
		}
		members := make([]Member, 0, len(c.Members)-1)
		members = append(members, c.Members[:i]...)
		c.Members = append(members, c.Members[i+1:]...)
		return c, true
	})
}

// ClearUnread resets a chat's unread counter to zero
type ClearUnread struct {
	ChatID string
}

func (a ClearUnread) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		if c.UnreadCount == 0 {
			return c, false
		}
		c.UnreadCount = 0
		return c, true
	})
}

// IncrementUnread bumps a chat's unread counter
type IncrementUnread struct {
	ChatID string
}

func (a IncrementUnread) reduce(s State) (State, bool) {
	return withChat(s, a.ChatID, func(c Chat) (Chat, bool) {
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		c.UnreadCount++
		return c, true
	})
}

func messageIndex(messages []Message, id string) int {
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}

func memberIndex(members []Member, address string) int {
	for i := range members {
		if strings.EqualFold(members[i].Address, address) {
			return i
		}
	}
	return -1
}

func dedupeMessages(chatID string, in []Message) []Message {
	seen := make(map[string]bool, len(in))
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		out = append(out, m)
	}
	return out
}

func dedupeMembers(in []Member) []Member {
	out := make([]Member, 0, len(in))
	for _, m := range in {
		if memberIndex(out, m.Address) < 0 {
			out = append(out, m)
		}
	}
	return out
}

// normalizeChat enforces the uniqueness invariants on a chat from outside
// the store
func normalizeChat(c Chat) Chat {
	c.Messages = dedupeMessages(c.ID, c.Messages)
	c.Members = dedupeMembers(c.Members)
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	return c
}
