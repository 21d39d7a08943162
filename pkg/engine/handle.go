package engine

import (
	"context"
	"io"
	"path"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
)

// torrentHandle wraps a torrent.Torrent with rate sampling and event
// subscribers.
type torrentHandle struct {
	t           *torrent.Torrent
	infoHash    string
	source      string
	displayName string

	mu           sync.RWMutex
	paused       bool
	downloadRate float64
	uploadRate   float64
	lastRead     int64
	lastWritten  int64
	lastSample   time.Time
	done         bool
	closed       bool
	listeners    map[int]func(Event)
	nextListener int
}

func newTorrentHandle(t *torrent.Torrent, source, displayName string) *torrentHandle {
	return &torrentHandle{
		t:           t,
		infoHash:    t.InfoHash().HexString(),
		source:      source,
		displayName: displayName,
		lastSample:  time.Now(),
		listeners:   make(map[int]func(Event)),
	}
}

func (h *torrentHandle) InfoHash() string { return h.infoHash }

func (h *torrentHandle) Source() string { return h.source }

// Stats reads the live counters of the underlying torrent.
func (h *torrentHandle) Stats() Stats {
	ts := h.t.Stats()

	stats := Stats{
		InfoHash:   h.infoHash,
		Name:       h.displayName,
		Downloaded: ts.BytesReadUsefulData.Int64(),
		Uploaded:   ts.BytesWrittenData.Int64(),
		Peers:      ts.ActivePeers,
		Seeds:      ts.ConnectedSeeders,
	}

	if h.t.Info() != nil {
		stats.Ready = true
		stats.Name = h.t.Name()
		stats.Length = h.t.Length()
		stats.Downloaded = h.t.BytesCompleted()
		if stats.Length > 0 {
			stats.Progress = float64(stats.Downloaded) / float64(stats.Length)
		} else {
			stats.Progress = 1
		}
	}

	h.mu.RLock()
	stats.DownloadRate = h.downloadRate
	stats.UploadRate = h.uploadRate
	h.mu.RUnlock()

	return stats
}

// Files returns nil until metadata has arrived.
func (h *torrentHandle) Files() []File {
	if h.t.Info() == nil {
		return nil
	}

	tf := h.t.Files()
	files := make([]File, 0, len(tf))
	for _, f := range tf {
		files = append(files, torrentFile{f: f})
	}
	return files
}

// Pause stops data transfer in both directions.
func (h *torrentHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrTorrentNotFound
	}
	if !h.paused {
		h.t.DisallowDataDownload()
		h.t.DisallowDataUpload()
		h.paused = true
	}
	return nil
}

// Resume allows data transfer again.
func (h *torrentHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrTorrentNotFound
	}
	if h.paused {
		h.t.AllowDataDownload()
		h.t.AllowDataUpload()
		h.paused = false
	}
	return nil
}

func (h *torrentHandle) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	id := h.nextListener
	h.nextListener++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// emit delivers an event to every listener. Must be called without h.mu held.
func (h *torrentHandle) emit(kind EventKind, err error) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	fns := make([]func(Event), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	ev := Event{Kind: kind, InfoHash: h.infoHash, Err: err}
	for _, fn := range fns {
		fn(ev)
	}
}

// sample updates transfer rates from byte counter deltas and returns the
// events the change implies.
func (h *torrentHandle) sample(now time.Time) []EventKind {
	ts := h.t.Stats()
	read := ts.BytesReadUsefulData.Int64()
	written := ts.BytesWrittenData.Int64()
	complete := h.t.Info() != nil && h.t.BytesMissing() == 0

	h.mu.Lock()
	defer h.mu.Unlock()

	elapsed := now.Sub(h.lastSample).Seconds()
	if elapsed <= 0 {
		return nil
	}

	var events []EventKind
	if read > h.lastRead {
		events = append(events, EventDownloadProgress)
	}
	if written > h.lastWritten {
		events = append(events, EventUploadProgress)
	}
	if complete && !h.done {
		h.done = true
		events = append(events, EventDone)
	}

	h.downloadRate = float64(read-h.lastRead) / elapsed
	h.uploadRate = float64(written-h.lastWritten) / elapsed
	h.lastRead = read
	h.lastWritten = written
	h.lastSample = now

	return events
}

// awaitInfo requests all pieces once metadata arrives and announces readiness.
func (h *torrentHandle) awaitInfo(stop <-chan struct{}) {
	select {
	case <-h.t.GotInfo():
		h.t.DownloadAll()
		h.emit(EventReady, nil)
	case <-h.t.Closed():
	case <-stop:
	}
}

// close detaches all listeners; later events are discarded.
func (h *torrentHandle) close() {
	h.mu.Lock()
	h.closed = true
	h.listeners = make(map[int]func(Event))
	h.mu.Unlock()
}

type torrentFile struct {
	f *torrent.File
}

func (f torrentFile) Path() string { return f.f.Path() }

func (f torrentFile) Name() string { return path.Base(f.f.DisplayPath()) }

func (f torrentFile) Length() int64 { return f.f.Length() }

// NewReader returns a responsive reader with readahead sized to the file.
func (f torrentFile) NewReader(ctx context.Context) (io.ReadSeekCloser, error) {
	r := f.f.NewReader()
	r.SetReadahead(f.f.Length() / 100)
	r.SetResponsive()
	return newCtxReader(ctx, r), nil
}

// newCtxReader wraps r so that it is closed when ctx ends.
func newCtxReader(ctx context.Context, r torrent.Reader) *ctxReader {
	cr := &ctxReader{Reader: r, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			cr.Close()
		case <-cr.done:
		}
	}()
	return cr
}

// ctxReader closes the torrent reader exactly once, either on request
// cancellation or when the caller is finished.
type ctxReader struct {
	torrent.Reader
	once sync.Once
	done chan struct{}
	err  error
}

func (r *ctxReader) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.err = r.Reader.Close()
	})
	return r.err
}
