package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/libreseed/torrentio/internal/config"
)

// DefaultSampleInterval is how often transfer rates are recomputed.
const DefaultSampleInterval = time.Second

// EngineState represents the current state of the engine.
type EngineState int

const (
	// EngineStateStopped indicates the engine is not running.
	EngineStateStopped EngineState = iota
	// EngineStateStarting indicates the engine is starting up.
	EngineStateStarting
	// EngineStateRunning indicates the engine is running and ready.
	EngineStateRunning
	// EngineStateStopping indicates the engine is shutting down.
	EngineStateStopping
)

// String returns a string representation of the engine state.
func (s EngineState) String() string {
	switch s {
	case EngineStateStopped:
		return "stopped"
	case EngineStateStarting:
		return "starting"
	case EngineStateRunning:
		return "running"
	case EngineStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Engine implements Client on an anacrolix/torrent client.
type Engine struct {
	// config holds the daemon configuration.
	config *config.Config
	// logger is the structured logger.
	logger *zap.Logger
	// httpClient fetches .torrent files for URL sources.
	httpClient *http.Client
	// sampleInterval is the rate sampling period.
	sampleInterval time.Duration
	// removeAll deletes a torrent's download directory.
	removeAll func(string) error

	client    *torrent.Client
	state     EngineState
	startedAt time.Time
	// torrents maps info hash to handle.
	torrents map[string]*torrentHandle
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// Option customizes an Engine.
type Option func(*Engine)

// WithHTTPClient sets the client used for URL sources.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// WithSampleInterval overrides DefaultSampleInterval.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) { e.sampleInterval = d }
}

// NewEngine creates a new Engine with the given configuration.
func NewEngine(cfg *config.Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:         cfg,
		logger:         logger.Named("torrent-engine"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		sampleInterval: DefaultSampleInterval,
		removeAll:      os.RemoveAll,
		state:          EngineStateStopped,
		torrents:       make(map[string]*torrentHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start creates the torrent client and begins rate sampling.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == EngineStateRunning {
		return nil
	}

	if e.state != EngineStateStopped {
		return fmt.Errorf("cannot start engine in state %s", e.state)
	}

	e.state = EngineStateStarting
	e.logger.Info("starting torrent engine")

	clientCfg, err := e.buildClientConfig()
	if err != nil {
		e.state = EngineStateStopped
		return fmt.Errorf("failed to build client config: %w", err)
	}

	client, err := torrent.NewClient(clientCfg)
	if err != nil {
		e.state = EngineStateStopped
		return fmt.Errorf("failed to create torrent client: %w", err)
	}

	e.client = client
	e.state = EngineStateRunning
	e.startedAt = time.Now()
	e.stopCh = make(chan struct{})

	e.wg.Add(1)
	go e.sampleLoop(e.stopCh)

	e.logger.Info("torrent engine started",
		zap.String("bind_address", e.config.Network.BindAddress),
		zap.Int("port", e.config.Network.Port),
		zap.Bool("dht_enabled", e.config.DHT.Enabled),
		zap.String("download_dir", e.config.Storage.DownloadDir),
	)

	return nil
}

// buildClientConfig creates the anacrolix/torrent ClientConfig from our config.
func (e *Engine) buildClientConfig() (*torrent.ClientConfig, error) {
	cfg := torrent.NewDefaultClientConfig()

	cfg.ListenHost = func(network string) string {
		return e.config.Network.BindAddress
	}
	cfg.ListenPort = e.config.Network.Port

	if !e.config.Network.EnableIPv6 {
		cfg.DisableIPv6 = true
	}

	if !e.config.DHT.Enabled {
		cfg.NoDHT = true
	} else if len(e.config.DHT.BootstrapNodes) > 0 {
		cfg.DhtStartingNodes = startingNodes(e.config.DHT.BootstrapNodes)
	}

	dataDir := e.config.Storage.DownloadDir
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory %s: %w", dataDir, err)
	}

	// One directory per info hash so removal can delete exactly one torrent.
	cfg.DefaultStorage = storage.NewFileByInfoHash(dataDir)
	cfg.DataDir = dataDir

	if e.config.Limits.MaxUploadKBps > 0 {
		cfg.UploadRateLimiter = rate.NewLimiter(
			rate.Limit(e.config.Limits.MaxUploadKBps*1024),
			e.config.Limits.MaxUploadKBps*1024,
		)
	}
	if e.config.Limits.MaxDownloadKBps > 0 {
		cfg.DownloadRateLimiter = rate.NewLimiter(
			rate.Limit(e.config.Limits.MaxDownloadKBps*1024),
			e.config.Limits.MaxDownloadKBps*1024,
		)
	}

	if e.config.Limits.MaxConnections > 0 {
		cfg.EstablishedConnsPerTorrent = e.config.Limits.MaxConnections
		cfg.HalfOpenConnsPerTorrent = e.config.Limits.MaxConnections / 2
		cfg.TotalHalfOpenConns = e.config.Limits.MaxConnections
	}

	cfg.Seed = true
	cfg.NoUpload = false
	cfg.Debug = false

	return cfg, nil
}

// Stop drops all torrents and closes the client.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()

	if e.state == EngineStateStopped {
		e.mu.Unlock()
		return nil
	}

	if e.state != EngineStateRunning {
		e.mu.Unlock()
		return fmt.Errorf("cannot stop engine in state %s", e.state)
	}

	e.state = EngineStateStopping
	e.logger.Info("stopping torrent engine")

	close(e.stopCh)

	for _, h := range e.torrents {
		h.close()
		h.t.Drop()
	}
	e.torrents = make(map[string]*torrentHandle)

	if e.client != nil {
		errs := e.client.Close()
		if len(errs) > 0 {
			e.logger.Warn("errors while closing torrent client",
				zap.Int("error_count", len(errs)),
			)
		}
		e.client = nil
	}
	e.mu.Unlock()

	// The sampler takes e.mu, so wait outside it.
	e.wg.Wait()

	e.mu.Lock()
	e.state = EngineStateStopped
	e.mu.Unlock()

	e.logger.Info("torrent engine stopped")
	return nil
}

// State returns the current state of the engine.
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Torrents returns every live handle.
func (e *Engine) Torrents() []Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()

	handles := make([]Handle, 0, len(e.torrents))
	for _, h := range e.torrents {
		handles = append(handles, h)
	}
	return handles
}

// Add resolves source and adds the torrent it names.
func (e *Engine) Add(ctx context.Context, source string) (Handle, error) {
	source = strings.TrimSpace(source)

	switch {
	case strings.HasPrefix(strings.ToLower(source), "magnet:"):
		if _, ok := SourceHash(source); !ok {
			return nil, fmt.Errorf("%w: magnet link without btih", ErrInvalidSource)
		}
		spec, err := torrent.TorrentSpecFromMagnetUri(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		return e.addSpec(spec, source)

	case IsInfoHash(source):
		var ih metainfo.Hash
		if err := ih.FromHexString(source); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
		spec := &torrent.TorrentSpec{}
		spec.InfoHash = ih
		return e.addSpec(spec, source)

	case isURL(source):
		// Network fetch happens before taking the engine lock.
		mi, err := fetchMetainfo(ctx, e.httpClient, source)
		if err != nil {
			return nil, err
		}
		return e.addMetainfo(mi, source)

	default:
		if fi, err := os.Stat(source); err == nil && !fi.IsDir() {
			mi, err := metainfo.LoadFromFile(source)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMetainfo, err)
			}
			return e.addMetainfo(mi, source)
		}
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
}

// AddMetainfo adds a torrent from raw .torrent bytes.
func (e *Engine) AddMetainfo(ctx context.Context, source string, data []byte) (Handle, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetainfo, err)
	}
	return e.addMetainfo(mi, source)
}

func (e *Engine) addMetainfo(mi *metainfo.MetaInfo, source string) (Handle, error) {
	if _, err := mi.UnmarshalInfo(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetainfo, err)
	}

	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetainfo, err)
	}
	return e.addSpec(spec, source)
}

func (e *Engine) addSpec(spec *torrent.TorrentSpec, source string) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != EngineStateRunning {
		return nil, ErrEngineNotStarted
	}

	infoHash := spec.InfoHash.HexString()
	if h, exists := e.torrents[infoHash]; exists {
		// A torrent added by hash or magnet takes metadata from a later
		// .torrent for the same content.
		if len(spec.InfoBytes) > 0 && h.t.Info() == nil {
			if err := h.t.SetInfoBytes(spec.InfoBytes); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidMetainfo, err)
			}
		}
		return h, nil
	}

	t, _, err := e.client.AddTorrentSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to add torrent: %w", err)
	}

	h := newTorrentHandle(t, source, spec.DisplayName)
	e.torrents[infoHash] = h

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		h.awaitInfo(e.stopCh)
	}()

	e.logger.Info("added torrent",
		zap.String("info_hash", infoHash),
		zap.String("source", source),
	)

	return h, nil
}

// Remove drops a torrent and optionally deletes its download directory.
func (e *Engine) Remove(ctx context.Context, handle Handle, deleteData bool) error {
	e.mu.Lock()

	if e.state != EngineStateRunning {
		e.mu.Unlock()
		return ErrEngineNotStarted
	}

	h, exists := e.torrents[handle.InfoHash()]
	if !exists || Handle(h) != handle {
		e.mu.Unlock()
		return ErrTorrentNotFound
	}

	h.close()
	h.t.Drop()
	delete(e.torrents, h.infoHash)
	e.mu.Unlock()

	e.logger.Info("removed torrent",
		zap.String("info_hash", h.infoHash),
		zap.Bool("delete_data", deleteData),
	)

	if deleteData {
		dir := filepath.Join(e.config.Storage.DownloadDir, h.infoHash)
		if err := e.removeAll(dir); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDataNotDeleted, dir, err)
		}
	}

	return nil
}

// DownloadRate is the sum of all handle download rates in bytes per second.
func (e *Engine) DownloadRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var total float64
	for _, h := range e.torrents {
		h.mu.RLock()
		total += h.downloadRate
		h.mu.RUnlock()
	}
	return total
}

// UploadRate is the sum of all handle upload rates in bytes per second.
func (e *Engine) UploadRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var total float64
	for _, h := range e.torrents {
		h.mu.RLock()
		total += h.uploadRate
		h.mu.RUnlock()
	}
	return total
}

// DHTNodes returns the number of nodes in the DHT routing tables.
func (e *Engine) DHTNodes() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.client == nil {
		return 0
	}
	return dhtNodeCount(e.client)
}

// sampleLoop recomputes rates and fans out progress events.
func (e *Engine) sampleLoop(stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			e.mu.RLock()
			handles := make([]*torrentHandle, 0, len(e.torrents))
			for _, h := range e.torrents {
				handles = append(handles, h)
			}
			e.mu.RUnlock()

			for _, h := range handles {
				for _, kind := range h.sample(now) {
					h.emit(kind, nil)
				}
			}
		}
	}
}
