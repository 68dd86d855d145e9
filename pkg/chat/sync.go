package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juicebox/juicechat/pkg/client"
)

// ErrNoCipher is returned for encrypted content when no cipher is set
var ErrNoCipher = errors.New("encrypted chat: no cipher configured")

// Backend is the part of the REST API the sync layer needs; *api.Client
// satisfies it
type Backend interface {
	GetChat(ctx context.Context, chatID string) (Chat, error)
	GetMessages(ctx context.Context, chatID string) ([]Message, error)
	GetMembers(ctx context.Context, chatID string) ([]Member, error)
	SendMessage(ctx context.Context, chatID, content string) (Message, error)
}

// Cipher encrypts message content for encrypted chats; the crypto
// package's KeyStore satisfies it
type Cipher interface {
	Encrypt(chatID, plaintext string) (string, error)
	Decrypt(chatID, content string) (string, error)
}

// Sync joins chats: it loads history over REST, scopes the connection to
// the active chat and performs optimistic sends.
type Sync struct {
	store   *Store
	backend Backend
	conn    client.ConnectionInterface
	cipher  Cipher
	self    func() string
	now     func() time.Time
}

// NewSync creates a sync layer. self returns the current user's address.
func NewSync(store *Store, backend Backend, conn client.ConnectionInterface, self func() string) *Sync {
	return &Sync{
		store:   store,
		backend: backend,
		conn:    conn,
		self:    self,
		now:     time.Now,
	}
}

// SetCipher enables sending to and reading from encrypted chats
func (s *Sync) SetCipher(c Cipher) {
	s.cipher = c
}

// LoadChat fetches a chat with its history and members and upserts it at
// the head of the chat list
func (s *Sync) LoadChat(ctx context.Context, chatID string) error {
	c, err := s.backend.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}
	messages, err := s.backend.GetMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to load messages for %s: %w", chatID, err)
	}
	members, err := s.backend.GetMembers(ctx, chatID)
	if err != nil {
		return fmt.Errorf("failed to load members for %s: %w", chatID, err)
	}

	// Keep anything the channel delivered while the fetch was in flight
	if existing, ok := s.store.GetChat(chatID); ok {
		c.UnreadCount = existing.UnreadCount
		messages = append(messages, existing.Messages...)
	}

	s.store.AddChat(c)
	s.store.SetMessages(chatID, messages)
	s.store.SetMembers(chatID, members)
	return nil
}

// OpenChat makes chatID the active chat, clears its unread counter, scopes
// the connection to it and loads its history
func (s *Sync) OpenChat(ctx context.Context, chatID string) error {
	s.store.SetActiveChat(chatID)
	// Frames that arrive while history loads need a chat to land in
	s.store.Dispatch(ensureChat{ID: chatID})
	s.conn.Connect(chatID)

	if err := s.LoadChat(ctx, chatID); err != nil {
		return err
	}
	s.store.ClearUnread(chatID)
	return nil
}

// SendMessage inserts an optimistic copy of the message, posts it and swaps
// in the server's copy. On failure the optimistic copy is removed. Content
// for an encrypted chat is encrypted before it reaches the store.
func (s *Sync) SendMessage(ctx context.Context, chatID, content string) (Message, error) {
	encrypted := false
	if c, ok := s.store.GetChat(chatID); ok && c.IsEncrypted {
		if s.cipher == nil {
			return Message{}, ErrNoCipher
		}
		sealed, err := s.cipher.Encrypt(chatID, content)
		if err != nil {
			return Message{}, fmt.Errorf("failed to encrypt message: %w", err)
		}
		content, encrypted = sealed, true
	}

	optimistic := Message{
		ID:            uuid.NewString(),
		ChatID:        chatID,
		SenderAddress: s.self(),
		Role:          RoleUser,
		Content:       content,
		IsEncrypted:   encrypted,
		CreatedAt:     s.now().UTC(),
	}
	s.store.AddMessage(chatID, optimistic)

	sent, err := s.backend.SendMessage(ctx, chatID, content)
	if err != nil {
		s.store.Dispatch(RemoveMessage{ChatID: chatID, MessageID: optimistic.ID})
		return Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	s.store.Dispatch(ReplaceMessage{ChatID: chatID, OldID: optimistic.ID, Message: sent})
	return sent, nil
}

// Plaintext returns a message's readable content, decrypting it when the
// message is encrypted
func (s *Sync) Plaintext(m Message) (string, error) {
	if !m.IsEncrypted {
		return m.Content, nil
	}
	if s.cipher == nil {
		return "", ErrNoCipher
	}
	return s.cipher.Decrypt(m.ChatID, m.Content)
}

// ensureChat adds an empty chat with the given id unless one exists
type ensureChat struct {
	ID string
}

func (a ensureChat) reduce(s State) (State, bool) {
	if _, ok := s.Chat(a.ID); ok {
		return s, false
	}
	return AddChat{Chat: Chat{ID: a.ID}}.reduce(s)
}
