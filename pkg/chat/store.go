package chat

import (
	"fmt"
	"log"
	"sync"

	"github.com/juicebox/juicechat/pkg/bus"
	"github.com/juicebox/juicechat/pkg/client"
)

// StorageKey is the key the chat snapshot is persisted under
const StorageKey = client.ChatStorageKey

// Persister stores snapshots; client.State satisfies it
type Persister interface {
	SaveSnapshot(key string, v any) error
	LoadSnapshot(key string, v any) (bool, error)
}

// persisted is the JSON shape of a stored snapshot's state
type persisted struct {
	Chats        []Chat  `json:"chats"`
	ActiveChatID *string `json:"activeChatId"`
}

// Store is the single source of truth for chats. Every mutation goes
// through Dispatch; subscribers see snapshots after the lock is released,
// in the order the changes were made.
type Store struct {
	mu        sync.RWMutex
	state     State
	version   uint64
	persister Persister
	logger    *log.Logger

	// publishMu orders notifications; published is the newest version sent
	publishMu sync.Mutex
	published uint64
	changes   *bus.Bus[State]
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{changes: bus.New[State]()}
}

// SetLogger sets a logger for persistence failures
func (s *Store) SetLogger(logger *log.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetPersister enables persistence of every change
func (s *Store) SetPersister(p Persister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Dispatch applies a and returns the resulting snapshot. No-op actions
// neither persist nor notify.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	next, changed := a.reduce(s.state)
	if !changed {
		s.mu.Unlock()
		return next
	}
	s.state = next
	s.version++
	version := s.version
	if s.persister != nil {
		if err := s.persister.SaveSnapshot(StorageKey, toPersisted(next)); err != nil {
			s.logf("Failed to persist chats: %v", err)
		}
	}
	s.mu.Unlock()

	s.publish(version, next)
	return next
}

// publish notifies subscribers unless a newer snapshot already went out,
// so a dispatch that loses the race to publish never rolls subscribers back
func (s *Store) publish(version uint64, st State) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if version <= s.published {
		return
	}
	s.published = version
	s.changes.Publish(st)
}

// Snapshot returns the current state
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn for changed snapshots. fn must not dispatch.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

// Load hydrates the store from its persister. A missing snapshot leaves the
// store empty.
func (s *Store) Load() error {
	_, _, err := s.hydrate(false)
	return err
}

// Rehydrate reloads the persisted snapshot after another process wrote it
// and notifies subscribers
func (s *Store) Rehydrate() error {
	next, version, err := s.hydrate(true)
	if err != nil {
		return err
	}
	s.publish(version, next)
	return nil
}

// hydrate replaces the state with the persisted snapshot and returns it
// with its version
func (s *Store) hydrate(replaceEmpty bool) (State, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persister == nil {
		return s.state, s.version, nil
	}

	var p persisted
	found, err := s.persister.LoadSnapshot(StorageKey, &p)
	if err != nil {
		return s.state, s.version, fmt.Errorf("failed to load chats: %w", err)
	}
	if !found && !replaceEmpty {
		return s.state, s.version, nil
	}

	next, _ := SetChats{Chats: p.Chats}.reduce(State{})
	if p.ActiveChatID != nil {
		next.ActiveChatID = *p.ActiveChatID
	}
	s.state = next
	s.version++
	return next, s.version, nil
}

func toPersisted(st State) persisted {
	p := persisted{Chats: st.Chats}
	if p.Chats == nil {
		p.Chats = []Chat{}
	}
	if st.ActiveChatID != "" {
		id := st.ActiveChatID
		p.ActiveChatID = &id
	}
	return p
}

// GetActiveChat looks up the active chat; nothing is cached
func (s *Store) GetActiveChat() (Chat, bool) {
	return s.Snapshot().ActiveChat()
}

// GetChat looks up a chat by id
func (s *Store) GetChat(id string) (Chat, bool) {
	return s.Snapshot().Chat(id)
}

// SetChats replaces the chat list
func (s *Store) SetChats(chats []Chat) { s.Dispatch(SetChats{Chats: chats}) }

// AddChat upserts a chat at the head of the list
func (s *Store) AddChat(c Chat) { s.Dispatch(AddChat{Chat: c}) }

// UpdateChat shallow-merges patch into a chat
func (s *Store) UpdateChat(id string, patch ChatPatch) { s.Dispatch(UpdateChat{ID: id, Patch: patch}) }

// RemoveChat deletes a chat
func (s *Store) RemoveChat(id string) { s.Dispatch(RemoveChat{ID: id}) }

// SetActiveChat moves the active pointer; "" clears it
func (s *Store) SetActiveChat(id string) { s.Dispatch(SetActiveChat{ID: id}) }

// AddMessage appends a message if its id is new
func (s *Store) AddMessage(chatID string, m Message) {
	s.Dispatch(AddMessage{ChatID: chatID, Message: m})
}

// UpdateMessage shallow-merges patch into a message
func (s *Store) UpdateMessage(chatID, messageID string, patch MessagePatch) {
	s.Dispatch(UpdateMessage{ChatID: chatID, MessageID: messageID, Patch: patch})
}

// SetMessages replaces a chat's history
func (s *Store) SetMessages(chatID string, messages []Message) {
	s.Dispatch(SetMessages{ChatID: chatID, Messages: messages})
}

// SetMembers replaces a chat's members
func (s *Store) SetMembers(chatID string, members []Member) {
	s.Dispatch(SetMembers{ChatID: chatID, Members: members})
}

// AddMember appends a member if the address is new
func (s *Store) AddMember(chatID string, m Member) {
	s.Dispatch(AddMember{ChatID: chatID, Member: m})
}

// RemoveMember deletes a member
func (s *Store) RemoveMember(chatID, address string) {
	s.Dispatch(RemoveMember{ChatID: chatID, Address: address})
}

// ClearUnread resets a chat's unread counter
func (s *Store) ClearUnread(chatID string) { s.Dispatch(ClearUnread{ChatID: chatID}) }

// IncrementUnread bumps a chat's unread counter
func (s *Store) IncrementUnread(chatID string) { s.Dispatch(IncrementUnread{ChatID: chatID}) }
