package daemon

import (
	"sync"
	"time"

	"github.com/libreseed/torrentio/pkg/metrics"
	"github.com/libreseed/torrentio/pkg/snapshot"
)

// RateSource reports the engine's aggregate transfer rates in bytes/sec.
type RateSource interface {
	DownloadRate() float64
	UploadRate() float64
}

// DaemonStatistics tracks current and peak transfer rates across snapshots.
type DaemonStatistics struct {
	mu sync.RWMutex

	// CurrentDownloadRate is the last sampled download speed in bytes/sec
	CurrentDownloadRate float64

	// CurrentUploadRate is the last sampled upload speed in bytes/sec
	CurrentUploadRate float64

	// PeakDownloadRate is the highest download speed seen in bytes/sec
	PeakDownloadRate float64

	// PeakUploadRate is the highest upload speed seen in bytes/sec
	PeakUploadRate float64

	// PeakTorrents is the largest number of torrents held at once
	PeakTorrents int

	// LastUpdateTime is when statistics were last updated
	LastUpdateTime time.Time
}

// NewDaemonStatistics creates a new DaemonStatistics with zero values.
func NewDaemonStatistics() *DaemonStatistics {
	return &DaemonStatistics{
		LastUpdateTime: time.Now(),
	}
}

// Update records a rate sample and the current torrent count.
func (s *DaemonStatistics) Update(download, upload float64, torrents int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CurrentDownloadRate = download
	s.CurrentUploadRate = upload
	s.PeakDownloadRate = max(s.PeakDownloadRate, download)
	s.PeakUploadRate = max(s.PeakUploadRate, upload)
	s.PeakTorrents = max(s.PeakTorrents, torrents)
	s.LastUpdateTime = time.Now()
}

// Snapshot returns a thread-safe copy of the current statistics.
func (s *DaemonStatistics) Snapshot() DaemonStatisticsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return DaemonStatisticsSnapshot{
		CurrentDownloadRate: s.CurrentDownloadRate,
		CurrentUploadRate:   s.CurrentUploadRate,
		PeakDownloadRate:    s.PeakDownloadRate,
		PeakUploadRate:      s.PeakUploadRate,
		PeakTorrents:        s.PeakTorrents,
		LastUpdateTime:      s.LastUpdateTime,
	}
}

// DaemonStatisticsSnapshot is an immutable snapshot of DaemonStatistics.
type DaemonStatisticsSnapshot struct {
	CurrentDownloadRate float64
	CurrentUploadRate   float64
	PeakDownloadRate    float64
	PeakUploadRate      float64
	PeakTorrents        int
	LastUpdateTime      time.Time
}

// snapshotObserver feeds every built snapshot to the metrics collector and
// samples engine rates into the statistics.
type snapshotObserver struct {
	metrics *metrics.Collector
	stats   *DaemonStatistics
	rates   RateSource
}

func (o snapshotObserver) ObserveSnapshot(snap snapshot.Snapshot) {
	o.metrics.ObserveSnapshot(snap)
	o.stats.Update(o.rates.DownloadRate(), o.rates.UploadRate(), len(snap.Torrents))
}
