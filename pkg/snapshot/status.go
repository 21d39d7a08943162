package snapshot

import (
	"github.com/libreseed/torrentio/pkg/engine"
	"github.com/libreseed/torrentio/pkg/shadow"
)

// Status is the lifecycle state shown for a torrent.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusSeeding     Status = "seeding"
	StatusCompleted   Status = "completed"
	StatusPaused      Status = "paused"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusDownloading, StatusSeeding, StatusCompleted, StatusQueued, StatusPaused}

// Classify derives a status from live counters and the shadow record.
// The first matching rule wins; nothing is remembered between calls.
func Classify(stats engine.Stats, rec shadow.Record) Status {
	switch {
	case rec.Paused:
		return StatusPaused
	case !stats.Ready:
		return StatusQueued
	case stats.Progress >= 1:
		if stats.UploadRate > 0 {
			return StatusSeeding
		}
		return StatusCompleted
	case stats.DownloadRate > 0 || stats.Progress > 0:
		return StatusDownloading
	default:
		return StatusQueued
	}
}

// Active reports whether s counts towards activeTorrents.
func (s Status) Active() bool {
	return s == StatusDownloading || s == StatusSeeding
}
