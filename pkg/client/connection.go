package client

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/juicebox/juicechat/pkg/bus"
	"github.com/juicebox/juicechat/pkg/protocol"
	"github.com/juicebox/juicechat/pkg/schedule"
)

// ConnectionState represents the connection status
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateOffline
	StateFailed
)

// String returns the wire name used in connection_status frames
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return protocol.StatusDisconnected
	case StateConnecting:
		return protocol.StatusConnecting
	case StateConnected:
		return protocol.StatusConnected
	case StateReconnecting:
		return protocol.StatusReconnecting
	case StateOffline:
		return protocol.StatusOffline
	case StateFailed:
		return protocol.StatusFailed
	}
	return "unknown"
}

// Status is a point-in-time snapshot of the manager
type Status struct {
	IsConnected bool
	IsOnline    bool
	Attempt     int
	State       ConnectionState
	ChatID      string
}

// AuthSource supplies credentials for the channel URL
type AuthSource interface {
	// SessionID is the anonymous per-install session id, always sent
	SessionID() string
	// BearerToken is the authenticated session token, empty when anonymous
	BearerToken() string
}

// Manager owns at most one live real-time connection, scoped to a chat id,
// and recovers from unexpected closes with exponential backoff.
//
// Transport failures never surface as errors; handlers observe them as
// connection_status frames.
type Manager struct {
	wsBase string
	auth   AuthSource

	mu             sync.Mutex
	dialer         Dialer
	sched          schedule.Scheduler
	jitter         func() time.Duration
	opts           Options
	chatID         string
	transport      Transport
	gen            uint64 // bumped whenever the current transport is superseded
	state          ConnectionState
	online         bool
	attempt        int
	reconnectTimer schedule.Timer
	reconnectSeq   uint64
	closed         bool

	handlers *bus.Bus[protocol.Frame]
	logger   *log.Logger
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager for the given ws(s) base address
func NewManager(wsBase string, auth AuthSource) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	opts := DefaultOptions()

	return &Manager{
		wsBase:   wsBase,
		auth:     auth,
		dialer:   NewWebSocketDialer(10 * time.Second),
		sched:    schedule.Real(),
		jitter:   RandomJitter(opts.MaxJitter),
		opts:     opts,
		online:   true,
		handlers: bus.New[protocol.Frame](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetLogger sets a logger for debugging connection events
func (m *Manager) SetLogger(logger *log.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// SetMetrics attaches prometheus collectors
func (m *Manager) SetMetrics(metrics *Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
	metrics.setState(m.state)
}

// SetDialer replaces the websocket dialer
func (m *Manager) SetDialer(d Dialer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialer = d
}

// SetScheduler replaces the timer source used for reconnect backoff
func (m *Manager) SetScheduler(s schedule.Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sched = s
}

// SetJitter replaces the jitter source
func (m *Manager) SetJitter(jitter func() time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jitter = jitter
}

// SetOptions replaces the reconnect options. The jitter source is reset to
// draw from the new MaxJitter.
func (m *Manager) SetOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
	m.jitter = RandomJitter(opts.MaxJitter)
}

// logf logs a message if a logger is set. Callers hold m.mu.
func (m *Manager) logf(format string, args ...interface{}) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Connect closes any existing transport, records chatID as the current
// scope and, when online, opens a new transport in the background.
// The attempt counter is reset, so Connect also recovers from StateFailed.
func (m *Manager) Connect(chatID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.attempt = 0
	events, stale := m.connectLocked(chatID)
	m.mu.Unlock()

	closeTransport(stale)
	m.emit(events...)
}

// connectLocked tears down the current transport and starts a dial.
// The superseded transport is returned so it can be closed without m.mu held.
func (m *Manager) connectLocked(chatID string) ([]protocol.Frame, Transport) {
	m.stopReconnectLocked()
	stale := m.dropTransportLocked()
	m.chatID = chatID

	if !m.online {
		m.logf("Offline, not connecting to chat %s", chatID)
		m.setStateLocked(StateOffline)
		return []protocol.Frame{m.statusFrameLocked(StateOffline, 0)}, stale
	}

	url, err := ChannelURL(m.wsBase, chatID, m.auth)
	if err != nil {
		m.logf("Cannot build channel URL for chat %s: %v", chatID, err)
		m.setStateLocked(StateFailed)
		return []protocol.Frame{m.statusFrameLocked(StateFailed, 0)}, stale
	}

	m.setStateLocked(StateConnecting)
	m.logf("Connecting to %s (attempt %d)", redactURL(url), m.attempt)

	gen := m.gen
	dialer := m.dialer
	m.wg.Add(1)
	go m.run(gen, dialer, url)

	return nil, stale
}

// run dials and, on success, becomes the transport's read loop
func (m *Manager) run(gen uint64, dialer Dialer, url string) {
	defer m.wg.Done()

	t, err := dialer.Dial(m.ctx, url)
	if err != nil {
		m.mu.Lock()
		m.logf("Dial failed: %v", err)
		m.mu.Unlock()
		m.handleClose(gen)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		t.Close()
		return
	}
	m.transport = t
	m.attempt = 0
	m.setStateLocked(StateConnected)
	m.logf("Connected to chat %s", m.chatID)
	connected := m.statusFrameLocked(StateConnected, 0)
	m.mu.Unlock()

	m.emit(connected)
	m.readLoop(gen, t)
}

// readLoop dispatches frames in delivery order until the transport fails
func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen == m.gen {
				m.logf("Read error: %v", err)
			}
			m.mu.Unlock()
			m.handleClose(gen)
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			m.mu.Lock()
			m.logf("Dropping inbound frame: %v", err)
			metrics := m.metrics
			m.mu.Unlock()
			metrics.recordParseError()
			continue
		}

		m.mu.Lock()
		metrics := m.metrics
		m.mu.Unlock()
		metrics.recordReceived(frame.Type)

		m.handlers.Publish(frame)
	}
}

// handleClose reacts to the transport of generation gen going away
func (m *Manager) handleClose(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}

	stale := m.transport
	m.transport = nil
	// Fence this generation so a late second close cannot reschedule
	m.gen++

	m.setStateLocked(StateDisconnected)
	events := []protocol.Frame{m.statusFrameLocked(StateDisconnected, 0)}
	if !m.online {
		// Still offline: wait for SetOnline(true) to reconnect
		m.setStateLocked(StateOffline)
	}
	events = append(events, m.scheduleReconnectLocked()...)
	m.mu.Unlock()

	closeTransport(stale)
	m.emit(events...)
}

// scheduleReconnectLocked applies the backoff policy after a close
func (m *Manager) scheduleReconnectLocked() []protocol.Frame {
	if !m.online {
		m.logf("Offline, waiting for network before reconnecting")
		return nil
	}
	if m.handlers.Len() == 0 {
		m.logf("No handlers registered, not reconnecting")
		return nil
	}

	if m.attempt >= m.opts.MaxAttempts {
		m.logf("Giving up on chat %s after %d attempts", m.chatID, m.attempt)
		m.setStateLocked(StateFailed)
		return []protocol.Frame{m.statusFrameLocked(StateFailed, 0)}
	}

	delay := m.opts.ReconnectDelay(m.attempt, m.jitter())
	m.attempt++
	m.setStateLocked(StateReconnecting)
	m.logf("Reconnect attempt %d to chat %s in %v", m.attempt, m.chatID, delay)

	m.reconnectSeq++
	seq := m.reconnectSeq
	chatID := m.chatID
	m.reconnectTimer = m.sched.AfterFunc(delay, func() {
		m.reconnect(seq, chatID)
	})
	m.metrics.recordReconnect()

	return []protocol.Frame{m.statusFrameLocked(StateReconnecting, delay)}
}

// reconnect fires from the backoff timer
func (m *Manager) reconnect(seq uint64, chatID string) {
	m.mu.Lock()
	if m.closed || seq != m.reconnectSeq || m.reconnectTimer == nil {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	events, stale := m.connectLocked(chatID)
	m.mu.Unlock()

	closeTransport(stale)
	m.emit(events...)
}

// stopReconnectLocked cancels a pending reconnect; in-flight callbacks are
// invalidated through reconnectSeq
func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectSeq++
}

// dropTransportLocked detaches the current transport and fences its
// generation so its eventual close is ignored
func (m *Manager) dropTransportLocked() Transport {
	t := m.transport
	m.transport = nil
	m.gen++
	return t
}

// Disconnect cancels any pending reconnect and closes the active transport.
// The chat id is kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopReconnectLocked()
	stale := m.dropTransportLocked()
	prev := m.state

	var events []protocol.Frame
	if prev != StateDisconnected {
		m.logf("Disconnecting from chat %s", m.chatID)
		m.setStateLocked(StateDisconnected)
		events = append(events, m.statusFrameLocked(StateDisconnected, 0))
	}
	m.mu.Unlock()

	closeTransport(stale)
	m.emit(events...)
}

// SetOnline feeds network reachability into the manager. Going offline
// abandons any pending reconnect; coming back online resets the attempt
// counter and reconnects immediately.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	if m.closed || m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.stopReconnectLocked()

	var events []protocol.Frame
	var stale Transport
	if !online {
		m.logf("Network offline")
		m.setStateLocked(StateOffline)
		events = append(events, m.statusFrameLocked(StateOffline, 0))
	} else {
		m.logf("Network online")
		m.attempt = 0
		if m.chatID != "" {
			events, stale = m.connectLocked(m.chatID)
		} else {
			m.setStateLocked(StateDisconnected)
		}
	}
	m.mu.Unlock()

	closeTransport(stale)
	m.emit(events...)
}

// OnMessage registers a handler invoked for every inbound frame, including
// synthetic connection_status frames. The manager does not filter by chat.
func (m *Manager) OnMessage(handler func(protocol.Frame)) (unsubscribe func()) {
	return m.handlers.Subscribe(handler)
}

// Send transmits a frame if the transport is open and silently drops it
// otherwise. Only encoding failures are returned.
func (m *Manager) Send(frame protocol.Outbound) error {
	data, err := protocol.EncodeOutbound(frame)
	if err != nil {
		return err
	}

	m.mu.Lock()
	t := m.transport
	metrics := m.metrics
	if t == nil {
		m.logf("Dropping outbound %s frame: not connected", frame.Type)
	}
	m.mu.Unlock()

	if t == nil {
		metrics.recordDropped(frame.Type)
		return nil
	}

	if err := t.WriteMessage(data); err != nil {
		m.mu.Lock()
		m.logf("Write error: %v", err)
		m.mu.Unlock()
		metrics.recordDropped(frame.Type)
		// The read loop observes the close and drives reconnection
		t.Close()
		return nil
	}

	metrics.recordSent(frame.Type)
	return nil
}

// Status returns a snapshot of {isConnected, isOnline, attempt}
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		IsConnected: m.transport != nil,
		IsOnline:    m.online,
		Attempt:     m.attempt,
		State:       m.state,
		ChatID:      m.chatID,
	}
}

// State returns the current connection state
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected returns whether a transport is open
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport != nil
}

// ChatID returns the chat the manager is scoped to
func (m *Manager) ChatID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatID
}

// Close shuts the manager down permanently and waits for its goroutines
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopReconnectLocked()
	stale := m.dropTransportLocked()
	m.closed = true
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	closeTransport(stale)
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) setStateLocked(s ConnectionState) {
	m.state = s
	m.metrics.setState(s)
}

func (m *Manager) statusFrameLocked(s ConnectionState, delay time.Duration) protocol.Frame {
	// Marshalling a plain struct cannot fail
	f, _ := protocol.NewFrame(protocol.TypeConnectionStatus, m.chatID, protocol.ConnectionStatusData{
		Status:  s.String(),
		Attempt: m.attempt,
		DelayMs: delay.Milliseconds(),
	})
	return f
}

func (m *Manager) emit(frames ...protocol.Frame) {
	for _, f := range frames {
		m.handlers.Publish(f)
	}
}

func closeTransport(t Transport) {
	if t != nil {
		t.Close()
	}
}
