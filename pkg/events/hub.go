// Package events fans serialized snapshots out to subscribed sinks, both on
// demand and on a fixed heartbeat.
package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink receives serialized snapshots. Send must not block; a returned error
// removes the sink from the hub.
type Sink interface {
	Send(payload []byte) error
}

// SnapshotFunc produces the current serialized snapshot.
type SnapshotFunc func() ([]byte, error)

// Observer is notified about subscriber and delivery counts.
type Observer interface {
	Subscribers(n int)
	Delivered(sent, dropped int)
}

type nopObserver struct{}

func (nopObserver) Subscribers(int)    {}
func (nopObserver) Delivered(int, int) {}

// Hub owns the set of live sinks.
type Hub struct {
	mu       sync.Mutex
	sinks    map[Sink]struct{}
	closed   bool
	snapshot SnapshotFunc
	logger   *zap.Logger
	observer Observer
}

// NewHub returns a hub that serializes snapshots with fn.
func NewHub(fn SnapshotFunc, logger *zap.Logger, observer Observer) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Hub{
		sinks:    make(map[Sink]struct{}),
		snapshot: fn,
		logger:   logger.Named("events"),
		observer: observer,
	}
}

// ErrHubClosed is returned when subscribing after Close.
var ErrHubClosed = errors.New("event hub closed")

// Subscribe registers s and immediately sends it the current snapshot.
// If that first send fails the sink is not kept.
func (h *Hub) Subscribe(s Sink) error {
	payload, err := h.snapshot()
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.sinks[s] = struct{}{}
	n := len(h.sinks)
	h.mu.Unlock()
	h.observer.Subscribers(n)

	if err := s.Send(payload); err != nil {
		h.Unsubscribe(s)
		return err
	}

	h.logger.Debug("subscriber added", zap.Int("subscribers", n))
	return nil
}

// Unsubscribe removes s. Removing an unknown sink is a no-op.
func (h *Hub) Unsubscribe(s Sink) {
	h.mu.Lock()
	_, ok := h.sinks[s]
	delete(h.sinks, s)
	n := len(h.sinks)
	h.mu.Unlock()

	if ok {
		h.observer.Subscribers(n)
		h.logger.Debug("subscriber removed", zap.Int("subscribers", n))
	}
}

// Broadcast sends payload to every sink. Sinks that fail are dropped and
// closed. It returns the number of successful deliveries.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.Lock()
	targets := make([]Sink, 0, len(h.sinks))
	for s := range h.sinks {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	sent, dropped := 0, 0
	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			h.logger.Debug("dropping subscriber", zap.Error(err))
			h.Unsubscribe(s)
			if c, ok := s.(io.Closer); ok {
				_ = c.Close()
			}
			dropped++
			continue
		}
		sent++
	}

	h.observer.Delivered(sent, dropped)
	return sent
}

// Publish serializes the current snapshot and broadcasts it.
func (h *Hub) Publish() error {
	payload, err := h.snapshot()
	if err != nil {
		h.logger.Warn("failed to build snapshot", zap.Error(err))
		return err
	}
	h.Broadcast(payload)
	return nil
}

// Run publishes on every tick until ctx is cancelled, independent of any
// engine activity.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = h.Publish()
		}
	}
}

// Len returns the number of subscribed sinks.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// Close removes every sink, closing those that implement io.Closer, and
// rejects later subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	sinks := h.sinks
	h.sinks = make(map[Sink]struct{})
	h.closed = true
	h.mu.Unlock()

	for s := range sinks {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
	h.observer.Subscribers(0)
	h.logger.Info("event hub closed", zap.Int("subscribers", len(sinks)))
}
