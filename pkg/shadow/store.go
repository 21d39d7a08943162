// Package shadow keeps the side metadata the torrent engine does not track:
// when a torrent was added, where it came from, whether the user paused it
// and which category it was filed under.
//
// Records are keyed by content hash once known, falling back to the source
// the torrent was added with. A record created under its source is moved to
// the hash key the first time the hash is seen, so a torrent keeps exactly
// one record for its whole life.
package shadow

import (
	"strings"
	"sync"
	"time"

	"github.com/libreseed/torrentio/pkg/engine"
)

const sourcePrefix = "source:"

// Record is the shadow metadata of one live torrent. It is a value; every
// update replaces the stored record as a whole.
type Record struct {
	AddedAt  time.Time `yaml:"added_at"`
	Source   string    `yaml:"source"`
	Paused   bool      `yaml:"paused"`
	Category string    `yaml:"category"`
}

// Entry pairs a record with its store key.
type Entry struct {
	Key    string `yaml:"key"`
	Record Record `yaml:"record"`
}

// Store is a concurrency-safe shadow table.
type Store struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewStore returns an empty store using the wall clock.
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock returns an empty store reading time from now.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		records: make(map[string]Record),
		now:     now,
	}
}

// Key returns the stable key of h: its content hash if known, else its source.
func Key(h engine.Handle) string {
	if ih := h.InfoHash(); ih != "" {
		return strings.ToLower(ih)
	}
	return sourcePrefix + strings.TrimSpace(h.Source())
}

// lookup finds the record of h, re-keying a source-keyed record under the
// content hash once it is known. Caller holds s.mu.
func (s *Store) lookup(h engine.Handle) (string, Record, bool) {
	key := Key(h)
	if rec, ok := s.records[key]; ok {
		return key, rec, true
	}

	if !strings.HasPrefix(key, sourcePrefix) {
		old := sourcePrefix + strings.TrimSpace(h.Source())
		if rec, ok := s.records[old]; ok {
			delete(s.records, old)
			s.records[key] = rec
			return key, rec, true
		}
	}

	return key, Record{}, false
}

// Get returns the record of h if one exists.
func (s *Store) Get(h engine.Handle) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, rec, ok := s.lookup(h)
	return rec, ok
}

// GetOrCreate returns the record of h, creating it on first sight. name is
// the engine-reported name, used for the category when the record is new.
// Existing records are returned unchanged, whatever name is passed.
func (s *Store) GetOrCreate(h engine.Handle, name string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, rec, ok := s.lookup(h)
	if ok {
		return rec
	}

	source := bestIdentifier(h.Source(), h.InfoHash(), name)
	categoryHint := name
	if categoryHint == "" {
		categoryHint = source
	}

	rec = Record{
		AddedAt:  s.now(),
		Source:   source,
		Category: InferCategory(categoryHint),
	}
	s.records[key] = rec
	return rec
}

// Create records a torrent added through the API with its category inferred
// from the raw source. An existing record is left untouched.
func (s *Store) Create(h engine.Handle, source string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, rec, ok := s.lookup(h)
	if ok {
		return rec
	}

	source = strings.TrimSpace(source)
	rec = Record{
		AddedAt:  s.now(),
		Source:   bestIdentifier(source, h.InfoHash(), ""),
		Category: InferCategory(source),
	}
	s.records[key] = rec
	return rec
}

// SetPaused replaces the record of h with one carrying the new pause flag.
// It reports false if h has no record.
func (s *Store) SetPaused(h engine.Handle, paused bool) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, rec, ok := s.lookup(h)
	if !ok {
		return Record{}, false
	}

	updated := rec
	updated.Paused = paused
	s.records[key] = updated
	return updated, true
}

// Delete removes the record of h.
func (s *Store) Delete(h engine.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, _, ok := s.lookup(h)
	if ok {
		delete(s.records, key)
	}
}

// Restore seeds a record under key, typically from a saved session.
func (s *Store) Restore(key string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
}

// Entries returns a copy of every record.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.records))
	for k, rec := range s.records {
		entries = append(entries, Entry{Key: k, Record: rec})
	}
	return entries
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func bestIdentifier(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return "torrent"
}

// InferCategory files a torrent by keywords in its name or source.
func InferCategory(text string) string {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "ubuntu", "debian", "linux"):
		return "Linux ISOs"
	case containsAny(lower, "movie", "1080p", "2160p"):
		return "Video"
	case strings.Contains(lower, "game"):
		return "Games"
	case containsAny(lower, "book", "ebook"):
		return "Books"
	default:
		return "General"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
