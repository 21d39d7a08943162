// Package engine is the boundary between the daemon and the embedded
// BitTorrent library. The daemon only sees the Client, Handle and File
// interfaces; Engine implements them on top of anacrolix/torrent and
// package enginetest provides an in-memory double.
package engine

import (
	"context"
	"errors"
	"io"
)

// Common errors returned by engine implementations.
var (
	ErrEngineNotStarted = errors.New("engine not started")
	ErrTorrentNotFound  = errors.New("torrent not found")
	ErrInvalidSource    = errors.New("invalid torrent source")
	ErrInvalidMetainfo  = errors.New("invalid torrent file")
	// ErrDataNotDeleted is returned by Remove when the torrent was dropped
	// but its files could not be deleted.
	ErrDataNotDeleted = errors.New("torrent data not deleted")
)

// EventKind names a lifecycle notification emitted by a handle.
type EventKind string

const (
	EventReady            EventKind = "ready"
	EventDownloadProgress EventKind = "download-progress"
	EventUploadProgress   EventKind = "upload-progress"
	EventDone             EventKind = "done"
	EventWarning          EventKind = "warning"
	EventError            EventKind = "error"
)

// Event is delivered to handle subscribers.
type Event struct {
	Kind     EventKind
	InfoHash string
	Err      error
}

// Stats is a point-in-time read of a handle's live counters.
type Stats struct {
	// InfoHash is the lowercase hex content hash, empty while unknown.
	InfoHash string
	// Name is the torrent name, empty until the engine knows one.
	Name string
	// Ready reports whether torrent metadata has been resolved.
	Ready bool
	// Progress is the completed fraction in [0, 1].
	Progress float64
	Length   int64
	// Downloaded is the number of verified bytes held once metadata is
	// known, and the bytes fetched this session before that.
	Downloaded   int64
	Uploaded     int64
	DownloadRate float64
	UploadRate   float64
	Peers        int
	Seeds        int
}

// File is one file inside a resolved torrent.
type File interface {
	// Path is the full path inside the torrent, including the torrent name
	// for multi-file torrents.
	Path() string
	Name() string
	Length() int64
	// NewReader opens a seekable reader that is closed when ctx ends.
	NewReader(ctx context.Context) (io.ReadSeekCloser, error)
}

// Handle is a live torrent owned by a Client.
type Handle interface {
	InfoHash() string
	// Source is the identifier the torrent was added with.
	Source() string
	Stats() Stats
	// Files is empty until metadata is available.
	Files() []File
	Pause() error
	Resume() error
	// Subscribe registers fn for lifecycle events and returns a function
	// that removes it.
	Subscribe(fn func(Event)) (cancel func())
}

// Client is the torrent collection the daemon reconciles against.
type Client interface {
	Torrents() []Handle
	// Add accepts a magnet URI, a 40 character hex info hash, an http(s)
	// URL of a .torrent file or a local .torrent path. Adding a torrent that
	// is already live returns the existing handle.
	Add(ctx context.Context, source string) (Handle, error)
	// AddMetainfo adds a torrent from raw .torrent bytes; source records
	// where they came from (usually a filename).
	AddMetainfo(ctx context.Context, source string, data []byte) (Handle, error)
	// Remove drops the torrent and, when deleteData is set, its files. Any
	// error other than ErrDataNotDeleted leaves the torrent live.
	Remove(ctx context.Context, h Handle, deleteData bool) error
	DownloadRate() float64
	UploadRate() float64
	DHTNodes() int
}
