package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockState is an in-memory implementation of StateInterface for testing
type MockState struct {
	mu     sync.RWMutex
	config map[string]string
	blobs  map[string][]byte
	dir    string

	// Error injection for testing
	getConfigErr    error
	setConfigErr    error
	saveSnapshotErr error

	// External change notifications delivered to Watch
	changes chan string
}

// NewMockState creates a new in-memory state for testing
func NewMockState() *MockState {
	return &MockState{
		config:  make(map[string]string),
		blobs:   make(map[string][]byte),
		dir:     "/tmp/juicechat-test",
		changes: make(chan string, 16),
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}
	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	s.config[key] = value
	return nil
}

// GetSessionID returns the stored session id
func (s *MockState) GetSessionID() string {
	id, _ := s.GetConfig("session_id")
	return id
}

// SetSessionID stores the session id
func (s *MockState) SetSessionID(id string) error {
	return s.SetConfig("session_id", id)
}

// LoadAuth returns the stored auth blob
func (s *MockState) LoadAuth() (AuthState, error) {
	var auth AuthState
	if _, err := s.LoadSnapshot(AuthStorageKey, &auth); err != nil {
		return AuthState{}, err
	}
	return auth, nil
}

// SaveAuth stores the auth blob
func (s *MockState) SaveAuth(auth AuthState) error {
	return s.SaveSnapshot(AuthStorageKey, auth)
}

// ClearAuth resets the auth blob
func (s *MockState) ClearAuth() error {
	return s.SaveSnapshot(AuthStorageKey, AuthState{})
}

// SaveSnapshot stores v wrapped the same way State does
func (s *MockState) SaveSnapshot(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveSnapshotErr != nil {
		return s.saveSnapshotErr
	}
	inner, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	blob, err := json.Marshal(snapshot{State: inner})
	if err != nil {
		return err
	}
	s.blobs[key] = blob
	return nil
}

// LoadSnapshot decodes the stored state under key into v
func (s *MockState) LoadSnapshot(key string, v any) (bool, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	var wrapped snapshot
	if err := json.Unmarshal(blob, &wrapped); err != nil {
		return false, err
	}
	if len(wrapped.State) == 0 || string(wrapped.State) == "null" {
		return false, nil
	}
	return true, json.Unmarshal(wrapped.State, v)
}

// Watch calls onChange for every SimulateExternalWrite on key until ctx ends
func (s *MockState) Watch(ctx context.Context, key string, interval time.Duration, onChange func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case changed := <-s.changes:
			if changed == key {
				onChange()
			}
		}
	}
}

// GetStateDir returns the directory where state is stored
func (s *MockState) GetStateDir() string {
	return s.dir
}

// Close closes the mock state (no-op for in-memory)
func (s *MockState) Close() error {
	return nil
}

// Test helpers

// SimulateExternalWrite stores v under key as if another process wrote it
// and notifies any Watch on that key
func (s *MockState) SimulateExternalWrite(key string, v any) error {
	if err := s.SaveSnapshot(key, v); err != nil {
		return err
	}
	s.changes <- key
	return nil
}

// SetGetConfigError sets an error to return from GetConfig()
func (s *MockState) SetGetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getConfigErr = err
}

// SetSetConfigError sets an error to return from SetConfig()
func (s *MockState) SetSetConfigError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfigErr = err
}

// SetSaveSnapshotError sets an error to return from SaveSnapshot()
func (s *MockState) SetSaveSnapshotError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveSnapshotErr = err
}

// RawSnapshot returns the stored wrapper bytes for key (for testing)
func (s *MockState) RawSnapshot(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.blobs[key]...)
}

// GetAllConfig returns all config (for testing)
func (s *MockState) GetAllConfig() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string)
	for k, v := range s.config {
		result[k] = v
	}
	return result
}
