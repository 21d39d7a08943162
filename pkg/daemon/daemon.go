// Package daemon wires the torrent engine, the service layer and the HTTP
// API into one process and owns their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/libreseed/torrentio/internal/config"
	"github.com/libreseed/torrentio/pkg/api"
	"github.com/libreseed/torrentio/pkg/engine"
	"github.com/libreseed/torrentio/pkg/metrics"
	"github.com/libreseed/torrentio/pkg/service"
	"github.com/libreseed/torrentio/pkg/watcher"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Lifecycle is implemented by engines that must be started and stopped.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Daemon represents the torrentio daemon server.
type Daemon struct {
	config  *config.Config
	logger  *zap.Logger
	version string
	state   *DaemonState
	stats   *DaemonStatistics

	engine  engine.Client
	service *service.Service
	metrics *metrics.Collector
	watcher *watcher.Watcher

	router     *api.Router
	httpServer *http.Server
	listener   net.Listener

	mu sync.Mutex
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithVersion sets the version reported by the API.
func WithVersion(v string) Option {
	return func(d *Daemon) { d.version = v }
}

// New creates a daemon around client. If client implements Lifecycle it is
// started by Start and stopped on shutdown.
func New(cfg *config.Config, client engine.Client, logger *zap.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if client == nil {
		return nil, errors.New("torrent engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Storage.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	d := &Daemon{
		config:  cfg,
		logger:  logger.Named("daemon"),
		version: "dev",
		state:   NewDaemonState(),
		stats:   NewDaemonStatistics(),
		engine:  client,
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.service = service.New(client, logger,
		service.WithSessionFile(cfg.SessionPath()),
		service.WithSnapshotObserver(snapshotObserver{metrics: d.metrics, stats: d.stats, rates: client}),
		service.WithHubObserver(d.metrics),
	)

	if cfg.Watch.Dir != "" {
		w, err := watcher.New(cfg.Watch.Dir, watcher.AdderFunc(d.addWatched), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = w
	}

	d.router = api.NewRouter(d.version, logger, cfg.Server.CORSOrigins, d.metrics.Middleware)
	d.router.RegisterRoutes(d.routes)
	d.router.Handle("/downloads/*", http.StripPrefix("/downloads", downloadsHandler(cfg.Storage.DownloadDir)))
	d.router.Handle("/metrics", d.metrics.Handler())

	d.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           d.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       180 * time.Second,
	}

	return d, nil
}

// Handler returns the HTTP handler of the API.
func (d *Daemon) Handler() http.Handler { return d.router }

// Service returns the service layer.
func (d *Daemon) Service() *service.Service { return d.service }

// Addr returns the address the HTTP server listens on once started.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return d.config.Addr()
	}
	return d.listener.Addr().String()
}

// GetState returns a snapshot of the current daemon state.
func (d *Daemon) GetState() DaemonStateSnapshot {
	return d.state.Snapshot()
}

// GetStatistics returns a snapshot of the transfer statistics.
func (d *Daemon) GetStatistics() DaemonStatisticsSnapshot {
	return d.stats.Snapshot()
}

// Start starts the engine, restores the saved session and opens the HTTP
// listener.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.GetStatus() == StatusRunning {
		return fmt.Errorf("daemon is already running")
	}
	d.state.SetStatus(StatusStarting)

	if lc, ok := d.engine.(Lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			d.fail(err)
			return fmt.Errorf("failed to start torrent engine: %w", err)
		}
	}

	if _, err := d.service.Restore(ctx); err != nil {
		d.logger.Warn("failed to restore session", zap.Error(err))
	}

	listener, err := net.Listen("tcp", d.config.Addr())
	if err != nil {
		d.fail(err)
		return fmt.Errorf("failed to listen on %s: %w", d.config.Addr(), err)
	}
	d.listener = listener

	d.state.SetStatus(StatusRunning)
	d.logger.Info("torrentio backend listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("download_dir", d.config.Storage.DownloadDir))
	return nil
}

// Run starts the daemon and serves until ctx is cancelled, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.httpServer.Serve(d.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.state.SetError(err)
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return d.service.Hub().Run(gctx, d.config.Server.HeartbeatInterval)
	})

	if d.watcher != nil {
		g.Go(func() error {
			return d.watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return d.Stop()
	})

	return g.Wait()
}

// Stop ends every event stream, saves the session, shuts down the HTTP
// server and stops the engine.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := d.state.GetStatus()
	if status == StatusStopped || status == StatusStopping {
		return nil
	}
	d.state.SetStatus(StatusStopping)
	d.logger.Info("shutting down")

	var errs []error

	if err := d.service.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to save session: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if d.listener != nil {
		if err := d.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown HTTP server: %w", err))
		}
		// Shutdown only closes listeners that Serve has seen
		if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close listener: %w", err))
		}
	}

	if lc, ok := d.engine.(Lifecycle); ok {
		if err := lc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop torrent engine: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		d.fail(err)
		return err
	}

	d.state.SetStatus(StatusStopped)
	d.logger.Info("shutdown complete")
	return nil
}

func (d *Daemon) fail(err error) {
	d.state.SetStatus(StatusError)
	d.state.SetError(err)
}

func (d *Daemon) addWatched(ctx context.Context, filename string, data []byte) error {
	_, err := d.service.UploadAdd(ctx, filename, data)
	return err
}
