package shadow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreseed/torrentio/pkg/engine/enginetest"
)

const hash = "0123456789012345678901234567890123456789"

func fixedClock(t0 time.Time) (func() time.Time, func(time.Duration)) {
	now := t0
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ubuntu-24.04-desktop-amd64.iso", "Linux ISOs"},
		{"Debian netinst", "Linux ISOs"},
		{"Arch LINUX", "Linux ISOs"},
		{"Big.Buck.Bunny.1080p", "Video"},
		{"nature.2160p.mkv", "Video"},
		{"My Movie", "Video"},
		{"Retro Game Pack", "Games"},
		{"The Go Programming eBook", "Books"},
		{"notes.txt", "General"},
		{"", "General"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, InferCategory(tt.in))
		})
	}
}

func TestGetOrCreateIsStable(t *testing.T) {
	clock, advance := fixedClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewStoreWithClock(clock)
	h := enginetest.NewHandle(hash, "magnet:?xt=urn:btih:"+hash)

	first := s.GetOrCreate(h, "ubuntu.iso")
	assert.Equal(t, "Linux ISOs", first.Category)
	assert.Equal(t, "magnet:?xt=urn:btih:"+hash, first.Source)
	assert.False(t, first.Paused)

	advance(time.Hour)
	second := s.GetOrCreate(h, "Some Game 1080p")

	assert.Equal(t, first, second, "record must not change when the reported name changes")
	assert.Equal(t, 1, s.Len())
}

func TestGetOrCreateSourceFallbacks(t *testing.T) {
	s := NewStore()

	tests := []struct {
		name       string
		hash       string
		source     string
		engineName string
		want       string
	}{
		{"source wins", hash, "file.torrent", "name", "file.torrent"},
		{"hash when no source", hash, "", "name", hash},
		{"name when nothing else", "", "", "lonely", "lonely"},
		{"placeholder", "", "", "", "torrent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := enginetest.NewHandle(tt.hash, tt.source)
			rec := s.GetOrCreate(h, tt.engineName)
			assert.Equal(t, tt.want, rec.Source)
			s.Delete(h)
		})
	}
}

func TestCreateUsesRawSourceForCategory(t *testing.T) {
	s := NewStore()
	h := enginetest.NewHandle(hash, "magnet:?xt=urn:btih:"+hash+"&dn=debian")

	rec := s.Create(h, "  magnet:?xt=urn:btih:"+hash+"&dn=debian ")
	assert.Equal(t, "Linux ISOs", rec.Category)
	assert.Equal(t, "magnet:?xt=urn:btih:"+hash+"&dn=debian", rec.Source)

	// A later name never recomputes the category.
	again := s.GetOrCreate(h, "Movie Night")
	assert.Equal(t, rec, again)
}

func TestRekeyWhenHashBecomesKnown(t *testing.T) {
	s := NewStore()
	h := enginetest.NewHandle("", "https://example.com/book.torrent")

	created := s.Create(h, "https://example.com/book.torrent")
	assert.Equal(t, "Books", created.Category)
	assert.Equal(t, "source:https://example.com/book.torrent", Key(h))

	h.SetHash(hash)
	rec, ok := s.Get(h)
	require.True(t, ok)
	assert.Equal(t, created, rec)
	assert.Equal(t, 1, s.Len())

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, hash, entries[0].Key)
}

func TestSetPausedReplacesRecord(t *testing.T) {
	s := NewStore()
	h := enginetest.NewHandle(hash, "src")

	_, ok := s.SetPaused(h, true)
	assert.False(t, ok, "no record yet")

	original := s.GetOrCreate(h, "")
	paused, ok := s.SetPaused(h, true)
	require.True(t, ok)
	assert.True(t, paused.Paused)
	assert.Equal(t, original.AddedAt, paused.AddedAt)
	assert.False(t, original.Paused, "earlier copies are unaffected")

	resumed, _ := s.SetPaused(h, false)
	assert.False(t, resumed.Paused)
}

func TestDeleteAndRestore(t *testing.T) {
	s := NewStore()
	h := enginetest.NewHandle(hash, "src")
	s.GetOrCreate(h, "")

	s.Delete(h)
	_, ok := s.Get(h)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	added := time.Date(2023, 6, 1, 8, 0, 0, 0, time.UTC)
	s.Restore(hash, Record{AddedAt: added, Source: "src", Paused: true, Category: "Video"})

	rec := s.GetOrCreate(h, "ubuntu")
	assert.Equal(t, added, rec.AddedAt)
	assert.True(t, rec.Paused)
	assert.Equal(t, "Video", rec.Category)
}
