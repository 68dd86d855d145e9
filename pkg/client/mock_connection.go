package client

import (
	"fmt"
	"sync"

	"github.com/juicebox/juicechat/pkg/bus"
	"github.com/juicebox/juicechat/pkg/protocol"
)

// MockConnection is a test implementation of ConnectionInterface.
// Frames are delivered synchronously with Deliver.
type MockConnection struct {
	mu sync.RWMutex

	// State
	connected bool
	online    bool
	chatID    string
	state     ConnectionState
	sendErr   error

	handlers *bus.Bus[protocol.Frame]

	// Sent frames for verification
	SentFrames []protocol.Outbound
	Connects   []string
}

// NewMockConnection creates a new mock connection
func NewMockConnection() *MockConnection {
	return &MockConnection{
		online:   true,
		handlers: bus.New[protocol.Frame](),
	}
}

// Connect simulates opening a channel
func (m *MockConnection) Connect(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatID = chatID
	m.Connects = append(m.Connects, chatID)
	if m.online {
		m.connected = true
		m.state = StateConnected
	} else {
		m.state = StateOffline
	}
}

// Disconnect simulates closing the channel
func (m *MockConnection) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.state = StateDisconnected
}

// Close closes the mock connection
func (m *MockConnection) Close() {
	m.Disconnect()
}

// SetOnline records reachability
func (m *MockConnection) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
	if !online {
		m.state = StateOffline
	}
}

// OnMessage registers a frame handler
func (m *MockConnection) OnMessage(handler func(protocol.Frame)) func() {
	return m.handlers.Subscribe(handler)
}

// Deliver dispatches a frame to every handler as if it arrived on the wire
func (m *MockConnection) Deliver(frame protocol.Frame) {
	m.handlers.Publish(frame)
}

// DeliverData builds a frame from v and delivers it
func (m *MockConnection) DeliverData(frameType, chatID, sender string, v any) error {
	f, err := protocol.NewFrame(frameType, chatID, v)
	if err != nil {
		return fmt.Errorf("build %s frame: %w", frameType, err)
	}
	f.Sender = sender
	m.Deliver(f)
	return nil
}

// Send records the frame; frames are dropped while disconnected
func (m *MockConnection) Send(frame protocol.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	if !m.connected {
		return nil
	}
	m.SentFrames = append(m.SentFrames, frame)
	return nil
}

// SetSendError makes Send fail with err
func (m *MockConnection) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns a copy of the recorded outbound frames
func (m *MockConnection) Sent() []protocol.Outbound {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.Outbound, len(m.SentFrames))
	copy(out, m.SentFrames)
	return out
}

// ClearSent drops recorded outbound frames
func (m *MockConnection) ClearSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentFrames = nil
}

// Status returns the mock status
func (m *MockConnection) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		IsConnected: m.connected,
		IsOnline:    m.online,
		State:       m.state,
		ChatID:      m.chatID,
	}
}

// State returns the mock state
func (m *MockConnection) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns the connection status
func (m *MockConnection) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// ChatID returns the chat passed to the last Connect
func (m *MockConnection) ChatID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chatID
}
