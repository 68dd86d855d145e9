package chat

import (
	"log"
	"sync"

	"github.com/juicebox/juicechat/pkg/client"
	"github.com/juicebox/juicechat/pkg/protocol"
)

// aiResponseData is the payload of an ai_response frame. Fields other than
// id are optional so streaming updates can carry content alone.
type aiResponseData struct {
	Message
	Content     *string `json:"content"`
	IsStreaming *bool   `json:"isStreaming"`
}

// Binder feeds inbound frames into a Store. Frames for chats the store does
// not hold are ignored.
type Binder struct {
	store *Store

	mu          sync.Mutex
	logger      *log.Logger
	unsubscribe func()
}

// NewBinder creates a binder for store; call Bind to start receiving frames
func NewBinder(store *Store) *Binder {
	return &Binder{store: store}
}

// SetLogger sets a logger for dropped frames
func (b *Binder) SetLogger(logger *log.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

func (b *Binder) logf(format string, args ...interface{}) {
	b.mu.Lock()
	logger := b.logger
	b.mu.Unlock()
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// Bind subscribes to conn. A previous binding is released first.
func (b *Binder) Bind(conn client.ConnectionInterface) {
	unsubscribe := conn.OnMessage(b.Handle)

	b.mu.Lock()
	prev := b.unsubscribe
	b.unsubscribe = unsubscribe
	b.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Close stops receiving frames
func (b *Binder) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Handle applies one frame to the store
func (b *Binder) Handle(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeMessage:
		b.handleMessage(f)
	case protocol.TypeAIResponse:
		b.handleAIResponse(f)
	case protocol.TypeMemberJoined:
		var m Member
		if err := f.DecodeData(&m); err != nil || m.Address == "" {
			b.logf("Dropping member_joined frame for chat %s: %v", f.ChatID, err)
			return
		}
		b.store.AddMember(f.ChatID, m)
	case protocol.TypeMemberLeft:
		var data protocol.MemberLeftData
		if err := f.DecodeData(&data); err != nil || data.Address == "" {
			b.logf("Dropping member_left frame for chat %s: %v", f.ChatID, err)
			return
		}
		b.store.RemoveMember(f.ChatID, data.Address)
	case protocol.TypeError:
		var data protocol.ErrorData
		if err := f.DecodeData(&data); err != nil {
			b.logf("Backend error frame for chat %s", f.ChatID)
			return
		}
		b.logf("Backend error for chat %s: %s %s", f.ChatID, data.Code, data.Message)
	}
}

func (b *Binder) handleMessage(f protocol.Frame) {
	var m Message
	if err := f.DecodeData(&m); err != nil || m.ID == "" {
		b.logf("Dropping message frame for chat %s: %v", f.ChatID, err)
		return
	}
	m.ChatID = f.ChatID
	b.store.Dispatch(receiveMessage{ChatID: f.ChatID, Message: m})
}

func (b *Binder) handleAIResponse(f protocol.Frame) {
	var data aiResponseData
	if err := f.DecodeData(&data); err != nil || data.ID == "" {
		b.logf("Dropping ai_response frame for chat %s: %v", f.ChatID, err)
		return
	}

	m := data.Message
	m.ChatID = f.ChatID
	if m.Role == "" {
		m.Role = RoleAssistant
	}
	if data.Content != nil {
		m.Content = *data.Content
	}
	if data.IsStreaming != nil {
		m.IsStreaming = *data.IsStreaming
	}
	b.store.Dispatch(upsertMessage{
		ChatID:  f.ChatID,
		Message: m,
		Patch:   MessagePatch{Content: data.Content, IsStreaming: data.IsStreaming},
	})
}

// receiveMessage inserts an inbound message and, when it is new and its chat
// is not the active one, bumps the chat's unread counter in the same step
type receiveMessage struct {
	ChatID  string
	Message Message
}

func (a receiveMessage) reduce(s State) (State, bool) {
	next, changed := AddMessage{ChatID: a.ChatID, Message: a.Message}.reduce(s)
	if !changed || next.ActiveChatID == a.ChatID {
		return next, changed
	}
	return IncrementUnread{ChatID: a.ChatID}.reduce(next)
}

// upsertMessage adds Message when its id is new and otherwise merges Patch
// into the existing entry. A message whose stream has ended is final.
type upsertMessage struct {
	ChatID  string
	Message Message
	Patch   MessagePatch
}

func (a upsertMessage) reduce(s State) (State, bool) {
	c, ok := s.Chat(a.ChatID)
	if !ok {
		return s, false
	}
	if i := messageIndex(c.Messages, a.Message.ID); i >= 0 {
		if !c.Messages[i].IsStreaming {
			return s, false
		}
		return UpdateMessage{ChatID: a.ChatID, MessageID: a.Message.ID, Patch: a.Patch}.reduce(s)
	}
	return AddMessage{ChatID: a.ChatID, Message: a.Message}.reduce(s)
}
