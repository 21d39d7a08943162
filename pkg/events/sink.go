package events

import (
	"errors"
	"sync"
)

// Errors returned by ChannelSink.Send.
var (
	ErrSinkFull   = errors.New("subscriber buffer full")
	ErrSinkClosed = errors.New("subscriber closed")
)

// ChannelSink buffers payloads for a single consumer goroutine, such as an
// SSE connection. A consumer that falls a full buffer behind is dropped.
type ChannelSink struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
	mu   sync.RWMutex
}

// NewChannelSink returns a sink holding up to size pending payloads.
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Send enqueues payload without blocking.
func (s *ChannelSink) Send(payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}

	select {
	case s.ch <- payload:
		return nil
	default:
		return ErrSinkFull
	}
}

// C yields queued payloads.
func (s *ChannelSink) C() <-chan []byte { return s.ch }

// Done is closed once the sink is closed.
func (s *ChannelSink) Done() <-chan struct{} { return s.done }

// Close marks the sink closed; pending payloads stay readable.
func (s *ChannelSink) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
	})
	return nil
}
