// Package service implements the torrent operations exposed over HTTP. It
// reconciles the engine's live handles with the shadow table, builds
// snapshots and pushes them to the event hub after every change.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/libreseed/torrentio/pkg/engine"
	"github.com/libreseed/torrentio/pkg/events"
	"github.com/libreseed/torrentio/pkg/shadow"
	"github.com/libreseed/torrentio/pkg/snapshot"
)

// SnapshotObserver is told about every snapshot the service builds.
type SnapshotObserver interface {
	ObserveSnapshot(snapshot.Snapshot)
}

// Service owns the shadow table and serializes every read and mutation of
// it. The lock is never held across engine network I/O or removal.
type Service struct {
	mu       sync.Mutex
	engine   engine.Client
	store    *shadow.Store
	hub      *events.Hub
	bindings map[engine.Handle]func()

	logger      *zap.Logger
	now         func() time.Time
	observer    SnapshotObserver
	hubObserver events.Observer
	sessionFile string
	sessionMu   sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSessionFile enables session persistence at path.
func WithSessionFile(path string) Option {
	return func(s *Service) { s.sessionFile = path }
}

// WithSnapshotObserver registers o to see every built snapshot.
func WithSnapshotObserver(o SnapshotObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithHubObserver passes o to the event hub.
func WithHubObserver(o events.Observer) Option {
	return func(s *Service) { s.hubObserver = o }
}

// New returns a service over client with its own shadow table and hub.
func New(client engine.Client, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		engine:   client,
		bindings: make(map[engine.Handle]func()),
		logger:   logger.Named("service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store = shadow.NewStoreWithClock(s.now)
	s.hub = events.NewHub(s.SnapshotJSON, logger, s.hubObserver)
	return s
}

// Hub returns the hub snapshots are published on.
func (s *Service) Hub() *events.Hub { return s.hub }

// Store returns the shadow table.
func (s *Service) Store() *shadow.Store { return s.store }

// List returns the current snapshot.
func (s *Service) List() snapshot.Snapshot {
	s.mu.Lock()
	snap := snapshot.Build(s.engine, s.store, s.now())
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveSnapshot(snap)
	}
	return snap
}

// SnapshotJSON returns the current snapshot serialized for clients.
func (s *Service) SnapshotJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// Add starts fetching source. Adding a source that matches a live torrent
// returns the snapshot unchanged.
func (s *Service) Add(ctx context.Context, source string) (snapshot.Snapshot, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return snapshot.Snapshot{}, fmt.Errorf("%w: source is required (magnet URI or torrent URL)", ErrInvalidInput)
	}

	s.mu.Lock()
	existing := s.matchSource(source)
	s.mu.Unlock()
	if existing != nil {
		s.logger.Debug("torrent already present", zap.String("source", source))
		return s.List(), nil
	}

	h, err := s.engine.Add(ctx, source)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.track(h, source)
	s.logger.Info("torrent added",
		zap.String("source", source),
		zap.String("info_hash", h.InfoHash()))

	s.changed()
	return s.List(), nil
}

// UploadAdd adds a torrent from the raw bytes of a .torrent file. filename
// provides the record's source and category.
func (s *Service) UploadAdd(ctx context.Context, filename string, data []byte) (snapshot.Snapshot, error) {
	if len(data) == 0 {
		return snapshot.Snapshot{}, fmt.Errorf("%w: a .torrent file is required", ErrInvalidInput)
	}
	if filename = strings.TrimSpace(filename); filename != "" {
		filename = filepath.Base(filename)
	}

	h, err := s.engine.AddMetainfo(ctx, filename, data)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.track(h, filename)
	s.logger.Info("torrent uploaded",
		zap.String("filename", filename),
		zap.String("info_hash", h.InfoHash()))

	s.changed()
	return s.List(), nil
}

// Pause marks the torrent paused and asks the engine to stop transfers.
func (s *Service) Pause(id string) (snapshot.Snapshot, error) {
	return s.setPaused(id, true)
}

// Resume clears the paused flag and asks the engine to continue.
func (s *Service) Resume(id string) (snapshot.Snapshot, error) {
	return s.setPaused(id, false)
}

func (s *Service) setPaused(id string, paused bool) (snapshot.Snapshot, error) {
	s.mu.Lock()
	h := s.findByID(id)
	if h == nil {
		s.mu.Unlock()
		return snapshot.Snapshot{}, fmt.Errorf("%w: torrent %q", ErrNotFound, id)
	}

	s.store.GetOrCreate(h, h.Stats().Name)
	s.store.SetPaused(h, paused)

	var err error
	if paused {
		err = h.Pause()
	} else {
		err = h.Resume()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("engine did not apply pause state",
			zap.String("id", id),
			zap.Bool("paused", paused),
			zap.Error(err))
	}

	s.changed()
	return s.List(), nil
}

// Remove destroys the torrent and its downloaded data. On failure nothing
// is changed.
func (s *Service) Remove(ctx context.Context, id string) (snapshot.Snapshot, error) {
	s.mu.Lock()
	h := s.findByID(id)
	s.mu.Unlock()
	if h == nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: torrent %q", ErrNotFound, id)
	}

	if err := s.engine.Remove(ctx, h, true); err != nil {
		if !errors.Is(err, engine.ErrDataNotDeleted) && s.isLive(h) {
			s.logger.Error("failed to remove torrent", zap.String("id", id), zap.Error(err))
			return snapshot.Snapshot{}, fmt.Errorf("%w: %v", ErrRemovalFailed, err)
		}
		// The engine already dropped the torrent; only its files are left.
		s.logger.Warn("torrent removed with leftover data", zap.String("id", id), zap.Error(err))
	}

	s.mu.Lock()
	if cancel, ok := s.bindings[h]; ok {
		cancel()
		delete(s.bindings, h)
	}
	s.store.Delete(h)
	s.mu.Unlock()

	s.logger.Info("torrent removed", zap.String("id", id))

	s.changed()
	return s.List(), nil
}

// Close drops every subscriber and engine binding and saves the session.
func (s *Service) Close() error {
	s.hub.Close()

	s.mu.Lock()
	for h, cancel := range s.bindings {
		cancel()
		delete(s.bindings, h)
	}
	s.mu.Unlock()

	return s.SaveSession()
}

// track records h and subscribes to its lifecycle events.
func (s *Service) track(h engine.Handle, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Create(h, source)
	s.bind(h)
}

// bind subscribes to h once. Caller holds s.mu.
func (s *Service) bind(h engine.Handle) {
	if _, ok := s.bindings[h]; ok {
		return
	}
	s.bindings[h] = h.Subscribe(func(ev engine.Event) {
		switch ev.Kind {
		case engine.EventError:
			s.logger.Warn("torrent error", zap.String("info_hash", ev.InfoHash), zap.Error(ev.Err))
		case engine.EventWarning:
			s.logger.Debug("torrent warning", zap.String("info_hash", ev.InfoHash), zap.Error(ev.Err))
		case engine.EventDone:
			s.logger.Info("torrent completed", zap.String("info_hash", ev.InfoHash))
		}
		_ = s.hub.Publish()
	})
}

// isLive reports whether the engine still holds h.
func (s *Service) isLive(h engine.Handle) bool {
	for _, live := range s.engine.Torrents() {
		if live == h {
			return true
		}
	}
	return false
}

// changed pushes the new state to subscribers and to disk.
func (s *Service) changed() {
	_ = s.hub.Publish()
	if err := s.SaveSession(); err != nil {
		s.logger.Warn("failed to save session", zap.Error(err))
	}
}

// findByID matches a content hash case-insensitively or a record source
// exactly. Caller holds s.mu.
func (s *Service) findByID(id string) engine.Handle {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	for _, h := range s.engine.Torrents() {
		if ih := h.InfoHash(); ih != "" && strings.EqualFold(ih, id) {
			return h
		}
		if rec, ok := s.store.Get(h); ok {
			if rec.Source == id {
				return h
			}
		} else if strings.TrimSpace(h.Source()) == id {
			return h
		}
	}
	return nil
}

// matchSource finds a live torrent added with source or carrying the hash
// source names. Caller holds s.mu.
func (s *Service) matchSource(source string) engine.Handle {
	hash, hasHash := engine.SourceHash(source)

	for _, h := range s.engine.Torrents() {
		if hasHash && strings.EqualFold(h.InfoHash(), hash) {
			return h
		}
		if rec, ok := s.store.Get(h); ok && rec.Source == source {
			return h
		}
	}
	return nil
}
