package client

import (
	"context"
	"time"

	"github.com/juicebox/juicechat/pkg/protocol"
)

// ConnectionInterface defines the interface for the real-time connection
// This allows for mocking in tests while the real Manager implements all these methods
type ConnectionInterface interface {
	// Connection management
	Connect(chatID string)
	Disconnect()
	Close()
	SetOnline(online bool)

	// Frames
	OnMessage(handler func(protocol.Frame)) (unsubscribe func())
	Send(frame protocol.Outbound) error

	// Status
	Status() Status
	State() ConnectionState
	IsConnected() bool
	ChatID() string
}

// StateInterface defines the interface for client state persistence
// This allows for mocking in tests while the real State implements all these methods
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Session identity
	GetSessionID() string
	SetSessionID(id string) error

	// Authentication
	LoadAuth() (AuthState, error)
	SaveAuth(auth AuthState) error
	ClearAuth() error

	// Persisted store snapshots wrapped as {"state": ..., "version": N}
	SaveSnapshot(key string, v any) error
	LoadSnapshot(key string, v any) (bool, error)

	// Cross-process change notification
	Watch(ctx context.Context, key string, interval time.Duration, onChange func())

	// State directory
	GetStateDir() string

	// Close the state
	Close() error
}

var (
	_ ConnectionInterface = (*Manager)(nil)
	_ ConnectionInterface = (*MockConnection)(nil)
	_ StateInterface      = (*State)(nil)
	_ StateInterface      = (*MockState)(nil)
)
