package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Storage keys for persisted blobs
const (
	ChatStorageKey = "juice-chat-storage"
	AuthStorageKey = "juice-auth-storage"
)

// AuthState is the persisted authentication blob
type AuthState struct {
	Token   string `json:"token,omitempty"`
	Address string `json:"address,omitempty"`
}

// snapshot is the on-disk wrapper shared by every persisted blob
type snapshot struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

// State manages client-side persistent state
type State struct {
	db     *sql.DB
	dir    string // Directory where state is stored
	writer string // Identifies this process's writes to Watch

	mu       sync.Mutex
	lastSeen map[string]int64 // key -> revision already observed by Watch
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Configure for better reliability
	db.SetMaxOpenConns(1) // Client only needs one connection
	db.SetMaxIdleConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout so a second process sharing the file waits instead of failing
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	state := &State{
		db:       db,
		dir:      dir,
		writer:   uuid.NewString(),
		lastSeen: make(map[string]int64),
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return state, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetSessionID returns the persisted anonymous session id, empty if none
func (s *State) GetSessionID() string {
	id, _ := s.GetConfig("session_id")
	return id
}

// SetSessionID persists the anonymous session id
func (s *State) SetSessionID(id string) error {
	return s.SetConfig("session_id", id)
}

// LoadAuth returns the persisted auth blob; a missing blob is the zero value
func (s *State) LoadAuth() (AuthState, error) {
	var auth AuthState
	if _, err := s.LoadSnapshot(AuthStorageKey, &auth); err != nil {
		return AuthState{}, err
	}
	return auth, nil
}

// SaveAuth persists the auth blob
func (s *State) SaveAuth(auth AuthState) error {
	return s.SaveSnapshot(AuthStorageKey, auth)
}

// ClearAuth removes the auth blob
func (s *State) ClearAuth() error {
	return s.SaveSnapshot(AuthStorageKey, AuthState{})
}

// SaveSnapshot stores v under key as {"state": v, "version": 0} and bumps
// the key's revision
func (s *State) SaveSnapshot(key string, v any) error {
	inner, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	blob, err := json.Marshal(snapshot{State: inner, Version: 0})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var revision int64
	err = tx.QueryRow("SELECT revision FROM Storage WHERE key = ?", key).Scan(&revision)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	revision++

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO Storage (key, value, revision, writer, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, key, string(blob), revision, s.writer, time.Now().UnixMilli()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Our own writes never count as external changes
	s.mu.Lock()
	s.lastSeen[key] = revision
	s.mu.Unlock()

	return nil
}

// LoadSnapshot decodes the state wrapped under key into v.
// It reports false when nothing was stored.
func (s *State) LoadSnapshot(key string, v any) (bool, error) {
	var blob string
	err := s.db.QueryRow("SELECT value FROM Storage WHERE key = ?", key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var wrapped snapshot
	if err := json.Unmarshal([]byte(blob), &wrapped); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	if len(wrapped.State) == 0 || string(wrapped.State) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(wrapped.State, v); err != nil {
		return false, fmt.Errorf("failed to decode %s state: %w", key, err)
	}
	return true, nil
}

// revision returns the stored revision and writer for key
func (s *State) revision(key string) (int64, string, error) {
	var revision int64
	var writer string
	err := s.db.QueryRow("SELECT revision, writer FROM Storage WHERE key = ?", key).Scan(&revision, &writer)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	return revision, writer, err
}

// checkExternalChange reports whether another process wrote key since the
// last check
func (s *State) checkExternalChange(key string) (bool, error) {
	revision, writer, err := s.revision(key)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.lastSeen[key]
	s.lastSeen[key] = revision
	if !ok {
		// First observation establishes the baseline
		return false, nil
	}
	return revision != seen && writer != s.writer, nil
}

// Watch polls key every interval and calls onChange when another process
// (another State sharing the database file) writes it. Blocks until ctx ends.
func (s *State) Watch(ctx context.Context, key string, interval time.Duration, onChange func()) {
	if interval <= 0 {
		interval = time.Second
	}
	if _, err := s.checkExternalChange(key); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Warning: state watch for %s failed: %v\n", key, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := s.checkExternalChange(key)
			if err != nil {
				continue
			}
			if changed {
				onChange()
			}
		}
	}
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
