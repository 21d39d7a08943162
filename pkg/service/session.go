package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/libreseed/torrentio/pkg/engine"
	"github.com/libreseed/torrentio/pkg/session"
	"github.com/libreseed/torrentio/pkg/shadow"
)

// SaveSession writes the shadow table to the session file, if one is set.
func (s *Service) SaveSession() error {
	if s.sessionFile == "" {
		return nil
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return session.Save(s.sessionFile, s.store.Entries(), s.now())
}

// Restore re-adds every torrent of the saved session, keeping its original
// record. Entries the engine rejects are skipped. It returns the number of
// torrents restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.sessionFile == "" {
		return 0, nil
	}

	entries, err := session.Load(s.sessionFile)
	if err != nil {
		return 0, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Record.AddedAt.Before(entries[j].Record.AddedAt)
	})

	restored := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return restored, err
		}

		h, err := s.readd(ctx, e)
		if err != nil {
			s.logger.Warn("failed to restore torrent",
				zap.String("key", e.Key),
				zap.String("source", e.Record.Source),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		s.store.Restore(shadow.Key(h), e.Record)
		if e.Record.Paused {
			if err := h.Pause(); err != nil {
				s.logger.Warn("failed to pause restored torrent", zap.String("key", e.Key), zap.Error(err))
			}
		}
		s.bind(h)
		s.mu.Unlock()

		restored++
	}

	s.logger.Info("session restored",
		zap.Int("restored", restored),
		zap.Int("saved", len(entries)))
	return restored, nil
}

// readd adds e by its recorded source, falling back to the content hash
// for sources that are no longer resolvable, such as upload filenames.
func (s *Service) readd(ctx context.Context, e shadow.Entry) (engine.Handle, error) {
	h, err := s.engine.Add(ctx, e.Record.Source)
	if err == nil {
		return h, nil
	}
	if engine.IsInfoHash(e.Key) {
		return s.engine.Add(ctx, e.Key)
	}
	return nil, err
}
