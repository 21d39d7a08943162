// Package enginetest provides an in-memory engine.Client for tests.
package enginetest

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/libreseed/torrentio/pkg/engine"
)

// Client is a scriptable engine.Client.
type Client struct {
	mu        sync.Mutex
	handles   []*Handle
	downRate  float64
	upRate    float64
	dhtNodes  int
	removeErr error
	dropFirst bool
	removed   map[string]bool
}

// NewClient returns an empty fake client.
func NewClient() *Client {
	return &Client{removed: make(map[string]bool)}
}

var _ engine.Client = (*Client)(nil)

func (c *Client) Torrents() []engine.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]engine.Handle, 0, len(c.handles))
	for _, h := range c.handles {
		out = append(out, h)
	}
	return out
}

// Add accepts magnet URIs and bare info hashes.
func (c *Client) Add(ctx context.Context, source string) (engine.Handle, error) {
	source = strings.TrimSpace(source)

	hash, ok := engine.SourceHash(source)
	if !ok {
		return nil, fmt.Errorf("%w: %q", engine.ErrInvalidSource, source)
	}
	return c.insert(hash, source, ""), nil
}

// AddMetainfo parses data like the real engine and exposes its files.
func (c *Client) AddMetainfo(ctx context.Context, source string, data []byte) (engine.Handle, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidMetainfo, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidMetainfo, err)
	}

	h := c.insert(mi.HashInfoBytes().HexString(), source, info.BestName())
	return h, nil
}

func (c *Client) insert(hash, source, name string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.handles {
		if h.hash != "" && h.hash == hash {
			return h
		}
	}

	h := NewHandle(hash, source)
	if name != "" {
		h.SetStats(engine.Stats{Name: name})
	}
	c.handles = append(c.handles, h)
	return h
}

// Insert adds a prepared handle, e.g. one without a known hash.
func (c *Client) Insert(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles = append(c.handles, h)
}

func (c *Client) Remove(ctx context.Context, handle engine.Handle, deleteData bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removeErr != nil && !c.dropFirst {
		return c.removeErr
	}

	for i, h := range c.handles {
		if engine.Handle(h) == handle {
			c.handles = append(c.handles[:i], c.handles[i+1:]...)
			if c.removeErr != nil {
				return c.removeErr
			}
			c.removed[h.hash] = deleteData
			return nil
		}
	}
	return engine.ErrTorrentNotFound
}

// FailRemovals makes every Remove return err, leaving the torrent live,
// until called with nil.
func (c *Client) FailRemovals(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeErr = err
	c.dropFirst = false
}

// FailRemovalsAfterDrop makes every Remove drop the torrent and then
// return err, as when its files cannot be deleted.
func (c *Client) FailRemovalsAfterDrop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeErr = err
	c.dropFirst = err != nil
}

// DataDeleted reports whether hash was removed with deleteData set.
func (c *Client) DataDeleted(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed[hash]
}

// SetRates sets the aggregate transfer rates.
func (c *Client) SetRates(down, up float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downRate, c.upRate = down, up
}

// SetDHTNodes sets the reported DHT node count.
func (c *Client) SetDHTNodes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dhtNodes = n
}

func (c *Client) DownloadRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downRate
}

func (c *Client) UploadRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upRate
}

func (c *Client) DHTNodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dhtNodes
}

// Handle is a scriptable engine.Handle.
type Handle struct {
	mu        sync.Mutex
	hash      string
	source    string
	stats     engine.Stats
	files     []engine.File
	paused    bool
	listeners map[int]func(engine.Event)
	next      int
}

// NewHandle returns a handle with the given hash, which may be empty.
func NewHandle(hash, source string) *Handle {
	return &Handle{
		hash:      hash,
		source:    source,
		stats:     engine.Stats{InfoHash: hash},
		listeners: make(map[int]func(engine.Event)),
	}
}

var _ engine.Handle = (*Handle)(nil)

func (h *Handle) InfoHash() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hash
}

func (h *Handle) Source() string { return h.source }

func (h *Handle) Stats() engine.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.InfoHash = h.hash
	return s
}

// SetStats replaces the reported counters.
func (h *Handle) SetStats(s engine.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = s
}

// SetHash simulates the content hash becoming known.
func (h *Handle) SetHash(hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hash = hash
}

// SetFiles marks the handle ready with the given files.
func (h *Handle) SetFiles(files ...engine.File) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files = files
	h.stats.Ready = true
}

func (h *Handle) Files() []engine.File {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.File(nil), h.files...)
}

func (h *Handle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	return nil
}

func (h *Handle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	return nil
}

// Paused reports the engine-side pause state.
func (h *Handle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *Handle) Subscribe(fn func(engine.Event)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.listeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// Listeners returns the number of active subscriptions.
func (h *Handle) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// Emit delivers kind to every subscriber synchronously.
func (h *Handle) Emit(kind engine.EventKind) {
	h.mu.Lock()
	fns := make([]func(engine.Event), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	hash := h.hash
	h.mu.Unlock()

	for _, fn := range fns {
		fn(engine.Event{Kind: kind, InfoHash: hash})
	}
}

// File is an in-memory engine.File.
type File struct {
	FilePath string
	Data     []byte
}

var _ engine.File = File{}

func (f File) Path() string { return f.FilePath }

func (f File) Name() string { return path.Base(f.FilePath) }

func (f File) Length() int64 { return int64(len(f.Data)) }

func (f File) NewReader(ctx context.Context) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nopCloser{bytes.NewReader(f.Data)}, nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// StalledFile serves Data and then blocks until the reader's context ends,
// like a torrent reader waiting on pieces no peer has.
type StalledFile struct {
	FilePath string
	Data     []byte
	Size     int64

	once   sync.Once
	opened chan struct{}
	closed chan struct{}
}

// NewStalledFile returns a file of size bytes of which only data is available.
func NewStalledFile(filePath string, data []byte, size int64) *StalledFile {
	return &StalledFile{
		FilePath: filePath,
		Data:     data,
		Size:     size,
		opened:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

var _ engine.File = (*StalledFile)(nil)

func (f *StalledFile) Path() string { return f.FilePath }

func (f *StalledFile) Name() string { return path.Base(f.FilePath) }

func (f *StalledFile) Length() int64 { return f.Size }

// Opened is closed once a reader has been handed out.
func (f *StalledFile) Opened() <-chan struct{} { return f.opened }

// Closed is closed once that reader has been closed.
func (f *StalledFile) Closed() <-chan struct{} { return f.closed }

// NewReader may be called once per StalledFile.
func (f *StalledFile) NewReader(ctx context.Context) (io.ReadSeekCloser, error) {
	close(f.opened)
	return &stalledReader{ctx: ctx, Reader: bytes.NewReader(f.Data), file: f}, nil
}

type stalledReader struct {
	*bytes.Reader
	ctx  context.Context
	file *StalledFile
}

func (r *stalledReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if err == io.EOF {
		<-r.ctx.Done()
		return n, r.ctx.Err()
	}
	return n, err
}

func (r *stalledReader) Close() error {
	r.file.once.Do(func() { close(r.file.closed) })
	return nil
}

// Metainfo builds a valid single-file .torrent for data.
func Metainfo(name string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}

	const pieceLength = 16 << 10
	var pieces []byte
	for off := 0; off < len(data); off += pieceLength {
		end := min(off+pieceLength, len(data))
		sum := sha1.Sum(data[off:end])
		pieces = append(pieces, sum[:]...)
	}

	info := metainfo.Info{
		Name:        name,
		PieceLength: pieceLength,
		Length:      int64(len(data)),
		Pieces:      pieces,
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	if err := mi.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
