// Package chat holds the client-side chat model and the store that merges
// local actions and inbound frames into it.
package chat

import "time"

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MemberRole is a member's standing in a chat
type MemberRole string

const (
	MemberFounder MemberRole = "founder"
	MemberAdmin   MemberRole = "admin"
	MemberMember  MemberRole = "member"
)

// Visibility controls who can discover a chat
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Message is one entry in a chat's history. Content may change while
// IsStreaming is set.
type Message struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chatId"`
	SenderAddress string    `json:"senderAddress"`
	Role          Role      `json:"role"`
	Content       string    `json:"content"`
	IsEncrypted   bool      `json:"isEncrypted"`
	CreatedAt     time.Time `json:"createdAt"`
	IsStreaming   bool      `json:"isStreaming,omitempty"`
}

// Permissions are per-member capabilities
type Permissions struct {
	CanInvite        bool `json:"canInvite"`
	CanInvokeAI      bool `json:"canInvokeAi"`
	CanManageMembers bool `json:"canManageMembers"`
}

// Member is a participant of a chat, unique by address
type Member struct {
	Address     string      `json:"address"`
	Role        MemberRole  `json:"role"`
	DisplayName string      `json:"displayName,omitempty"`
	Permissions Permissions `json:"permissions"`
	JoinedAt    time.Time   `json:"joinedAt"`
}

// Chat is a room with its ordered history and member set
type Chat struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Visibility        Visibility `json:"visibility"`
	IsEncrypted       bool       `json:"isEncrypted"`
	EncryptionVersion int        `json:"encryptionVersion,omitempty"`
	TokenBalance      string     `json:"tokenBalance,omitempty"`
	AICreditBalance   string     `json:"aiCreditBalance,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	Members           []Member   `json:"members"`
	Messages          []Message  `json:"messages"`
	UnreadCount       int        `json:"unreadCount"`
}

// ChatPatch is a shallow partial update; nil fields are left untouched
type ChatPatch struct {
	Name              *string
	Description       *string
	Visibility        *Visibility
	IsEncrypted       *bool
	EncryptionVersion *int
	TokenBalance      *string
	AICreditBalance   *string
	UpdatedAt         *time.Time
}

func (p ChatPatch) apply(c Chat) Chat {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Visibility != nil {
		c.Visibility = *p.Visibility
	}
	if p.IsEncrypted != nil {
		c.IsEncrypted = *p.IsEncrypted
	}
	if p.EncryptionVersion != nil {
		c.EncryptionVersion = *p.EncryptionVersion
	}
	if p.TokenBalance != nil {
		c.TokenBalance = *p.TokenBalance
	}
	if p.AICreditBalance != nil {
		c.AICreditBalance = *p.AICreditBalance
	}
	if p.UpdatedAt != nil {
		c.UpdatedAt = *p.UpdatedAt
	}
	return c
}

// MessagePatch is a shallow partial update; nil fields are left untouched
type MessagePatch struct {
	Content     *string
	IsStreaming *bool
	IsEncrypted *bool
}

func (p MessagePatch) apply(m Message) Message {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.IsStreaming != nil {
		m.IsStreaming = *p.IsStreaming
	}
	if p.IsEncrypted != nil {
		m.IsEncrypted = *p.IsEncrypted
	}
	return m
}

// String returns a pointer to s, for building patches
func String(s string) *string { return &s }

// Bool returns a pointer to b, for building patches
func Bool(b bool) *bool { return &b }
