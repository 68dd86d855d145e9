package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSetter struct {
	mu    sync.Mutex
	calls []bool
}

func (r *recordingSetter) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, online)
}

func (r *recordingSetter) Calls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

func TestNetworkMonitorForwardsTransitionsOnly(t *testing.T) {
	var reachable atomic.Bool
	reachable.Store(true)
	setter := &recordingSetter{}
	monitor := NewNetworkMonitor(setter, ProberFunc(func(ctx context.Context) bool {
		return reachable.Load()
	}), time.Hour)

	ctx := context.Background()

	assert.True(t, monitor.Check(ctx))
	assert.Empty(t, setter.Calls())

	reachable.Store(false)
	assert.False(t, monitor.Check(ctx))
	assert.False(t, monitor.Check(ctx))
	assert.Equal(t, []bool{false}, setter.Calls())
	assert.False(t, monitor.Online())

	reachable.Store(true)
	monitor.Check(ctx)
	assert.Equal(t, []bool{false, true}, setter.Calls())
}

func TestNetworkMonitorIgnoresCancelledProbe(t *testing.T) {
	setter := &recordingSetter{}
	monitor := NewNetworkMonitor(setter, ProberFunc(func(ctx context.Context) bool {
		return false
	}), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	monitor.Check(ctx)

	assert.Empty(t, setter.Calls())
	assert.True(t, monitor.Online())
}

func TestNetworkMonitorDrivesManager(t *testing.T) {
	h := newHarness(t, 0)
	h.dialer.FailNext(errDial)

	var reachable atomic.Bool
	reachable.Store(true)
	monitor := NewNetworkMonitor(h.m, ProberFunc(func(ctx context.Context) bool {
		return reachable.Load()
	}), time.Hour)

	h.m.Connect("c1")
	h.waitStatus(t, "reconnecting")

	reachable.Store(false)
	monitor.Check(context.Background())
	h.waitStatus(t, "offline")
	assert.Equal(t, 0, h.sched.Pending())

	reachable.Store(true)
	monitor.Check(context.Background())
	h.waitStatus(t, "connected")
}

func TestNetworkMonitorRunStopsOnCancel(t *testing.T) {
	var probes atomic.Int32
	monitor := NewNetworkMonitor(&recordingSetter{}, ProberFunc(func(ctx context.Context) bool {
		probes.Add(1)
		return true
	}), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	prober := TCPProber{Addr: ln.Addr().String(), Timeout: time.Second}
	assert.True(t, prober.Probe(context.Background()))

	addr := ln.Addr().String()
	ln.Close()
	assert.False(t, TCPProber{Addr: addr, Timeout: 200 * time.Millisecond}.Probe(context.Background()))
}
