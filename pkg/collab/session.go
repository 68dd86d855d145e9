// Package collab reconciles remote selection, typing and hover activity on
// one interactive message into per-group presence state.
package collab

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/juicebox/juicechat/pkg/bus"
	"github.com/juicebox/juicechat/pkg/client"
	"github.com/juicebox/juicechat/pkg/identity"
	"github.com/juicebox/juicechat/pkg/protocol"
	"github.com/juicebox/juicechat/pkg/schedule"
)

// DefaultTypingTimeout is how long a typing indicator lives without a refresh
const DefaultTypingTimeout = 2000 * time.Millisecond

// Selection is one participant's chosen value in a group
type Selection struct {
	Address string
	Emoji   string
	Value   string
}

// Typing is one participant's in-progress text in a group
type Typing struct {
	Address string
	Emoji   string
	Text    string
}

// Hover marks a participant hovering over a group
type Hover struct {
	Address string
	Emoji   string
}

// Snapshot is a copy of the remote activity, keyed by group id. Groups with
// no entries are absent.
type Snapshot struct {
	Selections map[string][]Selection
	Typing     map[string][]Typing
	Hovers     map[string][]Hover
}

// Config scopes a Session
type Config struct {
	ChatID    string
	MessageID string
	Address   string // local participant; frames from it are ignored
	Emoji     string // sent with outbound frames, derived from Address when empty

	TypingTimeout time.Duration
	Scheduler     schedule.Scheduler
}

type expiryKey struct {
	address string
	group   string
}

// newExpiryKey folds the address case so refreshes match like entries do
func newExpiryKey(address, group string) expiryKey {
	return expiryKey{address: strings.ToLower(address), group: group}
}

type pendingTimer struct {
	timer schedule.Timer
	seq   uint64
}

// Session tracks remote activity for one message and sends local activity.
// Timers are owned by the session and all stop on Close.
type Session struct {
	cfg  Config
	conn client.ConnectionInterface

	mu         sync.Mutex
	selections map[string][]Selection
	typing     map[string][]Typing
	hovers     map[string][]Hover
	expiry     map[expiryKey]pendingTimer // inbound typing expiry
	debounce   map[string]pendingTimer    // outbound "stopped typing" per group
	seq        uint64
	closed     bool
	logger     *log.Logger

	changes     *bus.Bus[Snapshot]
	unsubscribe func()
}

// NewSession starts tracking cfg.MessageID on conn
func NewSession(conn client.ConnectionInterface, cfg Config) *Session {
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real()
	}
	if cfg.Emoji == "" && cfg.Address != "" {
		cfg.Emoji = identity.EmojiForAddress(cfg.Address)
	}

	s := &Session{
		cfg:        cfg,
		conn:       conn,
		selections: make(map[string][]Selection),
		typing:     make(map[string][]Typing),
		hovers:     make(map[string][]Hover),
		expiry:     make(map[expiryKey]pendingTimer),
		debounce:   make(map[string]pendingTimer),
		changes:    bus.New[Snapshot](),
	}
	s.unsubscribe = conn.OnMessage(s.Handle)
	return s
}

// SetLogger sets a logger for dropped frames
func (s *Session) SetLogger(logger *log.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Subscribe registers fn for every change to the remote activity
func (s *Session) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

// Handle applies one inbound frame. Frames for other chats, other messages
// or from the local participant are ignored.
func (s *Session) Handle(f protocol.Frame) {
	if f.Type != protocol.TypeComponentInteraction {
		return
	}
	if f.ChatID != "" && s.cfg.ChatID != "" && f.ChatID != s.cfg.ChatID {
		return
	}

	var data protocol.InteractionData
	if err := f.DecodeData(&data); err != nil {
		s.mu.Lock()
		s.logf("Dropping component_interaction frame: %v", err)
		s.mu.Unlock()
		return
	}
	if data.MessageID != s.cfg.MessageID || data.GroupID == "" {
		return
	}

	sender := f.Sender
	if sender == "" {
		sender = data.Address
	}
	if sender == "" || identity.SameAddress(sender, s.cfg.Address) {
		return
	}
	emoji := data.Emoji
	if emoji == "" {
		emoji = identity.EmojiForAddress(sender)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var changed bool
	switch data.Action {
	case protocol.ActionSelect:
		changed = s.applySelectLocked(sender, emoji, data.GroupID, data.Value)
	case protocol.ActionTyping:
		changed = s.applyTypingLocked(sender, emoji, data.GroupID, data.Value)
	case protocol.ActionHover:
		changed = s.applyHoverLocked(sender, emoji, data.GroupID)
	case protocol.ActionHoverEnd:
		changed = s.removeHoverLocked(sender, data.GroupID)
	default:
		s.logf("Ignoring unknown interaction action %q", data.Action)
	}
	var snap Snapshot
	if changed {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if changed {
		s.changes.Publish(snap)
	}
}

func (s *Session) applySelectLocked(sender, emoji, group string, value *string) bool {
	removed := false
	entries := s.selections[group]
	kept := entries[:0:0]
	for _, e := range entries {
		if identity.SameAddress(e.Address, sender) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if value != nil {
		kept = append(kept, Selection{Address: sender, Emoji: emoji, Value: *value})
	}
	setGroup(s.selections, group, kept)
	return removed || value != nil
}

func (s *Session) applyTypingLocked(sender, emoji, group string, value *string) bool {
	if value == nil || *value == "" {
		s.cancelExpiryLocked(newExpiryKey(sender, group))
		return s.removeTypingLocked(sender, group)
	}

	entries := s.typing[group]
	updated := make([]Typing, 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if identity.SameAddress(e.Address, sender) {
			e.Emoji = emoji
			e.Text = *value
			found = true
		}
		updated = append(updated, e)
	}
	if !found {
		updated = append(updated, Typing{Address: sender, Emoji: emoji, Text: *value})
	}
	s.typing[group] = updated

	s.restartExpiryLocked(newExpiryKey(sender, group))
	return true
}

func (s *Session) removeTypingLocked(sender, group string) bool {
	entries := s.typing[group]
	kept := entries[:0:0]
	for _, e := range entries {
		if !identity.SameAddress(e.Address, sender) {
			kept = append(kept, e)
		}
	}
	setGroup(s.typing, group, kept)
	return len(kept) != len(entries)
}

func (s *Session) applyHoverLocked(sender, emoji, group string) bool {
	for _, e := range s.hovers[group] {
		if identity.SameAddress(e.Address, sender) {
			return false
		}
	}
	entries := s.hovers[group]
	updated := make([]Hover, len(entries), len(entries)+1)
	copy(updated, entries)
	s.hovers[group] = append(updated, Hover{Address: sender, Emoji: emoji})
	return true
}

func (s *Session) removeHoverLocked(sender, group string) bool {
	entries := s.hovers[group]
	kept := entries[:0:0]
	for _, e := range entries {
		if !identity.SameAddress(e.Address, sender) {
			kept = append(kept, e)
		}
	}
	setGroup(s.hovers, group, kept)
	return len(kept) != len(entries)
}

// restartExpiryLocked (re)arms the typing expiry for key
func (s *Session) restartExpiryLocked(key expiryKey) {
	s.cancelExpiryLocked(key)
	s.seq++
	seq := s.seq
	t := s.cfg.Scheduler.AfterFunc(s.cfg.TypingTimeout, func() {
		s.expire(key, seq)
	})
	s.expiry[key] = pendingTimer{timer: t, seq: seq}
}

func (s *Session) cancelExpiryLocked(key expiryKey) {
	if p, ok := s.expiry[key]; ok {
		p.timer.Stop()
		delete(s.expiry, key)
	}
}

func (s *Session) expire(key expiryKey, seq uint64) {
	s.mu.Lock()
	p, ok := s.expiry[key]
	if s.closed || !ok || p.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.expiry, key)
	changed := s.removeTypingLocked(key.address, key.group)
	var snap Snapshot
	if changed {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if changed {
		s.changes.Publish(snap)
	}
}

// SendSelection publishes the local selection for group; nil deselects
func (s *Session) SendSelection(groupID string, value *string) error {
	return s.send(protocol.ActionSelect, groupID, value)
}

// SendTyping publishes text for group immediately and schedules an
// automatic "stopped typing" frame once no call arrives for TypingTimeout.
// Empty text stops typing at once.
func (s *Session) SendTyping(text, groupID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if p, ok := s.debounce[groupID]; ok {
		p.timer.Stop()
		delete(s.debounce, groupID)
	}
	if text != "" {
		s.seq++
		seq := s.seq
		t := s.cfg.Scheduler.AfterFunc(s.cfg.TypingTimeout, func() {
			s.stopTyping(groupID, seq)
		})
		s.debounce[groupID] = pendingTimer{timer: t, seq: seq}
	}
	s.mu.Unlock()

	return s.send(protocol.ActionTyping, groupID, &text)
}

func (s *Session) stopTyping(groupID string, seq uint64) {
	s.mu.Lock()
	p, ok := s.debounce[groupID]
	if s.closed || !ok || p.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.debounce, groupID)
	s.mu.Unlock()

	empty := ""
	if err := s.send(protocol.ActionTyping, groupID, &empty); err != nil {
		s.mu.Lock()
		s.logf("Failed to send stopped-typing for %s: %v", groupID, err)
		s.mu.Unlock()
	}
}

// SendHover publishes whether the local participant hovers over group
func (s *Session) SendHover(groupID string, hovering bool) error {
	action := protocol.ActionHoverEnd
	if hovering {
		action = protocol.ActionHover
	}
	return s.send(action, groupID, nil)
}

func (s *Session) send(action, groupID string, value *string) error {
	if groupID == "" {
		return fmt.Errorf("interaction %s: group id is empty", action)
	}
	return s.conn.Send(protocol.Outbound{
		Type: protocol.TypeComponentInteraction,
		Data: protocol.InteractionData{
			MessageID: s.cfg.MessageID,
			GroupID:   groupID,
			Action:    action,
			Value:     value,
			Emoji:     s.cfg.Emoji,
			Address:   s.cfg.Address,
		},
	})
}

// Snapshot returns a copy of the current remote activity
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Selections: copyGroups(s.selections),
		Typing:     copyGroups(s.typing),
		Hovers:     copyGroups(s.hovers),
	}
}

// Close stops receiving frames and cancels every pending timer
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key, p := range s.expiry {
		p.timer.Stop()
		delete(s.expiry, key)
	}
	for group, p := range s.debounce {
		p.timer.Stop()
		delete(s.debounce, group)
	}
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	unsubscribe()
}

func setGroup[T any](m map[string][]T, group string, entries []T) {
	if len(entries) == 0 {
		delete(m, group)
		return
	}
	m[group] = entries
}

func copyGroups[T any](m map[string][]T) map[string][]T {
	out := make(map[string][]T, len(m))
	for k, v := range m {
		out[k] = append([]T(nil), v...)
	}
	return out
}
