// Package session saves the shadow table to disk so torrents survive a
// daemon restart.
package session

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/libreseed/torrentio/pkg/shadow"
	"github.com/libreseed/torrentio/pkg/storage"
)

// Version is the current session file format.
const Version = 1

// File is the on-disk session document.
type File struct {
	Version  int            `yaml:"version"`
	SavedAt  time.Time      `yaml:"saved_at"`
	Torrents []shadow.Entry `yaml:"torrents"`
}

// Save writes entries to path, replacing any previous session.
func Save(path string, entries []shadow.Entry, now time.Time) error {
	if path == "" {
		return errors.New("session path is empty")
	}

	doc := File{
		Version:  Version,
		SavedAt:  now.UTC(),
		Torrents: entries,
	}
	if doc.Torrents == nil {
		doc.Torrents = []shadow.Entry{}
	}

	if err := storage.SaveYAML(path, doc); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load reads the session at path. A missing file is an empty session.
func Load(path string) ([]shadow.Entry, error) {
	var doc File
	if err := storage.LoadYAML(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if doc.Version > Version {
		return nil, fmt.Errorf("unsupported session version %d", doc.Version)
	}

	entries := make([]shadow.Entry, 0, len(doc.Torrents))
	for _, e := range doc.Torrents {
		if e.Key == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
