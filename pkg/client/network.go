package client

import (
	"context"
	"log"
	"net"
	"sync"
	"time"
)

// Prober reports whether the backend is reachable
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) bool

// Probe calls f
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// TCPProber dials addr and treats any completed handshake as reachable
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

// Probe opens and immediately closes a TCP connection
func (p TCPProber) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// OnlineSetter receives reachability transitions
type OnlineSetter interface {
	SetOnline(online bool)
}

// NetworkMonitor stands in for browser online/offline events: it probes the
// backend periodically and forwards transitions to its target.
type NetworkMonitor struct {
	target   OnlineSetter
	prober   Prober
	interval time.Duration

	mu     sync.Mutex
	online bool
	logger *log.Logger
}

// NewNetworkMonitor creates a monitor. Reachability starts out online to
// match a fresh Manager, so only an offline first probe is forwarded.
func NewNetworkMonitor(target OnlineSetter, prober Prober, interval time.Duration) *NetworkMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &NetworkMonitor{
		target:   target,
		prober:   prober,
		interval: interval,
		online:   true,
	}
}

// SetLogger sets a logger for transition events
func (n *NetworkMonitor) SetLogger(logger *log.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger = logger
}

// Check probes once and forwards a transition if reachability changed.
// It returns the probed value.
func (n *NetworkMonitor) Check(ctx context.Context) bool {
	online := n.prober.Probe(ctx)
	if ctx.Err() != nil {
		// A cancelled probe says nothing about the network
		return online
	}

	n.mu.Lock()
	changed := online != n.online
	n.online = online
	logger := n.logger
	n.mu.Unlock()

	if changed {
		if logger != nil {
			logger.Printf("Network reachability changed: online=%v", online)
		}
		n.target.SetOnline(online)
	}
	return online
}

// Online returns the last probed reachability
func (n *NetworkMonitor) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// Run probes every interval until ctx is cancelled
func (n *NetworkMonitor) Run(ctx context.Context) {
	n.Check(ctx)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Check(ctx)
		}
	}
}
