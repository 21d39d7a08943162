// Package snapshot turns the engine's live torrent collection into the
// normalized, display-ready document served to every client.
package snapshot

import (
	"math"
	"sort"
	"time"

	"github.com/libreseed/torrentio/pkg/engine"
	"github.com/libreseed/torrentio/pkg/format"
	"github.com/libreseed/torrentio/pkg/shadow"
)

// ETA placeholders for states without a meaningful estimate.
const (
	ETAPaused    = "Paused"
	ETAQueued    = "Queued"
	ETACompleted = "—"
)

// View is the normalized form of one torrent.
type View struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Size          string  `json:"size"`
	Progress      int     `json:"progress"`
	DownloadSpeed string  `json:"downloadSpeed"`
	UploadSpeed   string  `json:"uploadSpeed"`
	Seeds         int     `json:"seeds"`
	Peers         int     `json:"peers"`
	Status        Status  `json:"status"`
	ETA           string  `json:"eta"`
	Ratio         float64 `json:"ratio"`
	Added         string  `json:"added"`
	Category      string  `json:"category"`
}

// Stats aggregates the whole collection.
type Stats struct {
	TotalDownloadSpeed string `json:"totalDownloadSpeed"`
	TotalUploadSpeed   string `json:"totalUploadSpeed"`
	ActiveTorrents     int    `json:"activeTorrents"`
	TotalTorrents      int    `json:"totalTorrents"`
	TotalDownloaded    string `json:"totalDownloaded"`
	TotalUploaded      string `json:"totalUploaded"`
	DHTNodes           int    `json:"dhtNodes"`
}

// Snapshot is the unit of truth handed to clients.
type Snapshot struct {
	Torrents []View `json:"torrents"`
	Stats    Stats  `json:"stats"`
}

// Source is the part of engine.Client the builder reads.
type Source interface {
	Torrents() []engine.Handle
	DownloadRate() float64
	UploadRate() float64
	DHTNodes() int
}

type row struct {
	view    View
	addedAt time.Time
}

// Build derives a snapshot. Its only side effect is creating shadow records
// for handles seen for the first time.
func Build(src Source, store *shadow.Store, now time.Time) Snapshot {
	handles := src.Torrents()
	rows := make([]row, 0, len(handles))

	var downloaded, uploaded int64
	active := 0

	for _, h := range handles {
		stats := sanitize(h.Stats())
		rec := store.GetOrCreate(h, stats.Name)

		view := buildView(stats, rec, now)
		if view.Status.Active() {
			active++
		}
		downloaded += stats.Downloaded
		uploaded += stats.Uploaded

		rows = append(rows, row{view: view, addedAt: rec.AddedAt})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].addedAt.Equal(rows[j].addedAt) {
			return rows[i].addedAt.Before(rows[j].addedAt)
		}
		return rows[i].view.ID < rows[j].view.ID
	})

	views := make([]View, len(rows))
	for i, r := range rows {
		views[i] = r.view
	}

	return Snapshot{
		Torrents: views,
		Stats: Stats{
			TotalDownloadSpeed: format.Speed(src.DownloadRate()),
			TotalUploadSpeed:   format.Speed(src.UploadRate()),
			ActiveTorrents:     active,
			TotalTorrents:      len(views),
			TotalDownloaded:    format.Bytes(float64(downloaded)),
			TotalUploaded:      format.Bytes(float64(uploaded)),
			DHTNodes:           max(src.DHTNodes(), 0),
		},
	}
}

func buildView(stats engine.Stats, rec shadow.Record, now time.Time) View {
	status := Classify(stats, rec)

	id := stats.InfoHash
	if id == "" {
		id = rec.Source
	}
	name := stats.Name
	if name == "" {
		name = rec.Source
	}

	var ratio float64
	if stats.Downloaded > 0 {
		ratio = float64(stats.Uploaded) / float64(stats.Downloaded)
	}

	return View{
		ID:            id,
		Name:          name,
		Size:          format.Bytes(float64(stats.Length)),
		Progress:      percent(stats.Progress),
		DownloadSpeed: format.Speed(stats.DownloadRate),
		UploadSpeed:   format.Speed(stats.UploadRate),
		Seeds:         stats.Seeds,
		Peers:         stats.Peers,
		Status:        status,
		ETA:           eta(status, stats),
		Ratio:         ratio,
		Added:         format.RelativeTime(rec.AddedAt, now),
		Category:      rec.Category,
	}
}

func eta(status Status, stats engine.Stats) string {
	switch status {
	case StatusPaused:
		return ETAPaused
	case StatusQueued:
		return ETAQueued
	case StatusCompleted:
		return ETACompleted
	case StatusDownloading:
		if stats.DownloadRate <= 0 {
			return format.Infinity
		}
		remaining := max(stats.Length-stats.Downloaded, 0)
		return format.Duration(float64(remaining) / stats.DownloadRate)
	default:
		return format.Infinity
	}
}

// percent converts a [0,1] fraction to a clamped whole percentage.
func percent(fraction float64) int {
	p := math.Round(fraction * 100)
	return int(math.Max(0, math.Min(100, p)))
}

// sanitize zeroes counters an engine reported as negative or non-finite.
func sanitize(s engine.Stats) engine.Stats {
	s.Progress = finite(s.Progress)
	s.DownloadRate = max(finite(s.DownloadRate), 0)
	s.UploadRate = max(finite(s.UploadRate), 0)
	s.Length = max(s.Length, 0)
	s.Downloaded = max(s.Downloaded, 0)
	s.Uploaded = max(s.Uploaded, 0)
	s.Peers = max(s.Peers, 0)
	if s.Seeds < 0 {
		s.Seeds = s.Peers
	}
	return s
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// CountByStatus tallies views per status, including zero counts.
func (s Snapshot) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	for _, v := range s.Torrents {
		counts[v.Status]++
	}
	return counts
}
