package protocol

// Connection status values carried by connection_status frames
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusReconnecting = "reconnecting"
	StatusOffline      = "offline"
	StatusFailed       = "failed"
)

// ConnectionStatusData is the payload of a synthetic connection_status frame
type ConnectionStatusData struct {
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
	DelayMs int64  `json:"delayMs,omitempty"`
}

// Interaction actions used in component_interaction frames
const (
	ActionSelect   = "select"
	ActionTyping   = "typing"
	ActionHover    = "hover"
	ActionHoverEnd = "hover_end"
)

// InteractionData is the payload of a component_interaction frame.
//
// Value semantics depend on Action:
//   - select: nil means the sender deselected
//   - typing: empty string means the sender stopped typing
//   - hover/hover_end: ignored
type InteractionData struct {
	MessageID string  `json:"messageId"`
	GroupID   string  `json:"groupId"`
	Action    string  `json:"action"`
	Value     *string `json:"value"`
	Emoji     string  `json:"emoji,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// TypingData is the payload of a chat-level typing frame
type TypingData struct {
	Address  string `json:"address"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceData is the payload of a presence frame
type PresenceData struct {
	Address string `json:"address"`
	Online  bool   `json:"online"`
}

// MemberLeftData is the payload of a member_left frame
type MemberLeftData struct {
	Address string `json:"address"`
}

// ErrorData is the payload of an error frame
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
