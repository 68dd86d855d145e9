package client

import (
	"context"
	"sync"

	"github.com/juicebox/juicechat/pkg/protocol"
)

// MockTransport is an in-memory Transport for tests
type MockTransport struct {
	incoming  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	closeErr error
	written  [][]byte
	writeErr error
}

// NewMockTransport creates an open transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		incoming: make(chan []byte, 100),
		done:     make(chan struct{}),
	}
}

// ReadMessage blocks until a message is injected or the transport closes
func (t *MockTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.incoming:
		return data, nil
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return nil, t.closeErr
	}
}

// WriteMessage records data
func (t *MockTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	t.written = append(t.written, append([]byte(nil), data...))
	return nil
}

// Close closes the transport locally
func (t *MockTransport) Close() error {
	t.Fail(ErrTransportClosed)
	return nil
}

// Fail closes the transport as if the remote side dropped it
func (t *MockTransport) Fail(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closeErr = err
		t.mu.Unlock()
		close(t.done)
	})
}

// Closed reports whether the transport was closed
func (t *MockTransport) Closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Inject queues raw bytes for the reader
func (t *MockTransport) Inject(data []byte) {
	t.incoming <- data
}

// InjectFrame encodes and queues a frame for the reader
func (t *MockTransport) InjectFrame(f protocol.Frame) error {
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return err
	}
	t.Inject(data)
	return nil
}

// SetWriteError makes subsequent writes fail
func (t *MockTransport) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// Written returns a copy of every message written so far
func (t *MockTransport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

// MockDialer hands out MockTransports, or queued errors
type MockDialer struct {
	mu         sync.Mutex
	failures   []error
	urls       []string
	transports []*MockTransport
	dialed     chan string
}

// NewMockDialer creates a dialer that succeeds unless failures are queued
func NewMockDialer() *MockDialer {
	return &MockDialer{dialed: make(chan string, 100)}
}

// FailNext queues errors returned by the next dials, in order
func (d *MockDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// Dial returns the next queued error or a fresh MockTransport
func (d *MockDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	var err error
	var t *MockTransport
	if len(d.failures) > 0 {
		err = d.failures[0]
		d.failures = d.failures[1:]
	} else {
		t = NewMockTransport()
		d.transports = append(d.transports, t)
	}
	d.mu.Unlock()

	select {
	case d.dialed <- url:
	default:
	}

	if err != nil {
		return nil, err
	}
	return t, nil
}

// Dialed returns a channel receiving every dialed URL
func (d *MockDialer) Dialed() <-chan string {
	return d.dialed
}

// Dials returns how many times Dial was called
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URLs returns every dialed URL
func (d *MockDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Last returns the most recently created transport
func (d *MockDialer) Last() *MockTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}
