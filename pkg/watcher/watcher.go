// Package watcher adds .torrent files dropped into a directory.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// defaultDebounce is the time to wait after the last file event before processing
	defaultDebounce = 2 * time.Second

	// addedSubdir is where successfully added .torrent files are moved
	addedSubdir = "added"

	// invalidSubdir is where rejected files are moved
	invalidSubdir = "invalid"

	// maxTorrentFile bounds the size of a dropped .torrent file
	maxTorrentFile = 10 << 20
)

// Adder adds a torrent from the raw bytes of a .torrent file.
type Adder interface {
	UploadAdd(ctx context.Context, filename string, data []byte) error
}

// AdderFunc adapts a function to Adder.
type AdderFunc func(ctx context.Context, filename string, data []byte) error

func (f AdderFunc) UploadAdd(ctx context.Context, filename string, data []byte) error {
	return f(ctx, filename, data)
}

// Watcher monitors a directory for new .torrent files.
type Watcher struct {
	dir      string
	adder    Adder
	logger   *zap.Logger
	debounce time.Duration

	wg sync.WaitGroup

	// timers tracks the pending debounce timer of each file
	timers  map[string]*time.Timer
	timerMu sync.Mutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the quiet period before a file is processed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher for dir.
func New(dir string, adder Adder, logger *zap.Logger, opts ...Option) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory not configured")
	}
	if adder == nil {
		return nil, fmt.Errorf("adder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Watcher{
		dir:      dir,
		adder:    adder,
		logger:   logger.Named("watcher"),
		debounce: defaultDebounce,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches the directory until ctx is cancelled. Files already present
// when it starts are processed too.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{w.dir, filepath.Join(w.dir, addedSubdir), filepath.Join(w.dir, invalidSubdir)} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", sub, err)
		}
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsWatch.Close()

	if err := fsWatch.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	w.logger.Info("file watcher started", zap.String("watch_dir", w.dir))
	w.scanExisting(ctx)

	defer func() {
		w.stopTimers()
		w.wg.Wait()
		w.logger.Info("file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatch.Events:
			if !ok {
				return nil
			}
			w.handleFileEvent(ctx, event)

		case err, ok := <-fsWatch.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to scan watch directory", zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() && isTorrentFile(e.Name()) {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
}

// handleFileEvent debounces create, write and rename events of top-level
// .torrent files.
func (w *Watcher) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	if !isTorrentFile(event.Name) || isInSubdirectory(event.Name, w.dir) {
		return
	}

	w.logger.Debug("file event detected",
		zap.String("file", filepath.Base(event.Name)),
		zap.String("operation", event.Op.String()))

	w.schedule(ctx, event.Name)
}

// schedule (re)starts the debounce timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if timer, exists := w.timers[path]; exists {
		if timer.Stop() {
			w.wg.Done()
		}
	}

	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()

		w.timerMu.Lock()
		delete(w.timers, path)
		w.timerMu.Unlock()

		if ctx.Err() == nil {
			w.process(ctx, path)
		}
	})
}

func (w *Watcher) stopTimers() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	for path, timer := range w.timers {
		if timer.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
}

// process adds the file and files it under added/ or invalid/.
func (w *Watcher) process(ctx context.Context, path string) {
	name := filepath.Base(path)
	logger := w.logger.With(zap.String("file", name))

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("file no longer exists, skipping")
			return
		}
		logger.Error("failed to stat file", zap.Error(err))
		w.moveTo(path, invalidSubdir, logger)
		return
	}
	if info.IsDir() {
		return
	}
	if info.Size() > maxTorrentFile {
		logger.Warn("torrent file too large", zap.Int64("size", info.Size()))
		w.moveTo(path, invalidSubdir, logger)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read file", zap.Error(err))
		return
	}

	if err := w.adder.UploadAdd(ctx, name, data); err != nil {
		logger.Warn("failed to add torrent", zap.Error(err))
		w.moveTo(path, invalidSubdir, logger)
		return
	}

	logger.Info("torrent added from watch directory")
	w.moveTo(path, addedSubdir, logger)
}

func (w *Watcher) moveTo(path, subdir string, logger *zap.Logger) {
	dest := filepath.Join(w.dir, subdir, filepath.Base(path))
	if err := moveFile(path, dest); err != nil {
		logger.Error("failed to move file", zap.String("dest", dest), zap.Error(err))
		return
	}
	logger.Debug("file moved", zap.String("dest", dest))
}

// moveFile moves a file from src to dest, appending a timestamp when dest
// already exists.
func moveFile(src, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		base := strings.TrimSuffix(filepath.Base(dest), ext)
		timestamp := time.Now().Format("20060102-150405.000")
		dest = filepath.Join(filepath.Dir(dest), fmt.Sprintf("%s-%s%s", base, timestamp, ext))
	}

	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}

func isTorrentFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".torrent")
}

// isInSubdirectory reports whether path lies below a subdirectory of dir.
func isInSubdirectory(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return strings.Contains(rel, string(os.PathSeparator))
}
