package daemon

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/libreseed/torrentio/pkg/api"
	"github.com/libreseed/torrentio/pkg/events"
	"github.com/libreseed/torrentio/pkg/format"
	"github.com/libreseed/torrentio/pkg/service"
)

const (
	// sseRetryMillis is the reconnect delay suggested to event stream clients
	sseRetryMillis = 3000

	// sseBuffer is how many snapshots a slow event stream may fall behind
	sseBuffer = 16
)

// AddRequest is the body of POST /torrents.
type AddRequest struct {
	Source string `json:"source"`
}

// FilesResponse is the body of GET /torrents/{id}/files.
type FilesResponse struct {
	Files []service.FileInfo `json:"files"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status        DaemonStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Torrents      int          `json:"torrents"`
	Subscribers   int          `json:"subscribers"`
	PeakDownload  string       `json:"peak_download_speed"`
	PeakUpload    string       `json:"peak_upload_speed"`
	PeakTorrents  int          `json:"peak_torrents"`
	LastError     string       `json:"last_error,omitempty"`
}

// routes registers the torrent API.
func (d *Daemon) routes(r chi.Router) {
	r.Get("/status", d.handleStatus)
	r.Get("/events", d.handleEvents)

	r.Route("/torrents", func(r chi.Router) {
		r.Get("/", d.handleList)
		r.Post("/", d.handleAdd)
		r.Post("/upload", d.handleUpload)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", d.handleRemove)
			r.Post("/pause", d.handlePause)
			r.Post("/resume", d.handleResume)
			r.Get("/files", d.handleFiles)
			r.Get("/files/{index}/stream", d.handleStream)
		})
	})
}

// handleStatus returns daemon status
func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := d.GetState()
	snap := d.service.List()
	stats := d.GetStatistics()

	api.WriteOK(w, StatusResponse{
		Status:        state.Status,
		Version:       d.version,
		UptimeSeconds: int64(state.Uptime.Seconds()),
		Torrents:      len(snap.Torrents),
		Subscribers:   d.service.Hub().Len(),
		PeakDownload:  format.Speed(stats.PeakDownloadRate),
		PeakUpload:    format.Speed(stats.PeakUploadRate),
		PeakTorrents:  stats.PeakTorrents,
		LastError:     state.LastError,
	})
}

// handleEvents streams a snapshot on connect and after every broadcast.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis); err != nil {
		return
	}

	hub := d.service.Hub()
	sink := events.NewChannelSink(sseBuffer)
	if err := hub.Subscribe(sink); err != nil {
		d.logger.Warn("failed to subscribe event stream", zap.Error(err))
		return
	}
	defer hub.Unsubscribe(sink)
	defer sink.Close()

	if err := rc.Flush(); err != nil {
		d.logger.Debug("event stream cannot flush", zap.Error(err))
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sink.Done():
			return
		case payload := <-sink.C():
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// handleList returns the current snapshot
func (d *Daemon) handleList(w http.ResponseWriter, r *http.Request) {
	api.WriteOK(w, d.service.List())
}

// handleAdd adds a torrent by magnet URI, info hash or URL
func (d *Daemon) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if err := api.ParseJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	snap, err := d.service.Add(r.Context(), req.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteCreated(w, snap)
}

// handleUpload adds a torrent from an uploaded .torrent file, sent either as
// multipart form field "torrent" (or "file") or as the raw request body.
func (d *Daemon) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := int64(d.config.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	filename, data, err := readUpload(r, limit)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, api.PayloadTooLarge(fmt.Sprintf("torrent file exceeds %d MB", d.config.Server.MaxUploadMB)))
			return
		}
		writeError(w, err)
		return
	}

	snap, err := d.service.UploadAdd(r.Context(), filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteCreated(w, snap)
}

func readUpload(r *http.Request, limit int64) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, err
			}
			return "", nil, api.BadRequest("invalid multipart form: " + err.Error())
		}

		for _, field := range []string{"torrent", "file"} {
			file, header, err := r.FormFile(field)
			if err != nil {
				continue
			}
			defer file.Close()

			data, err := io.ReadAll(file)
			if err != nil {
				return "", nil, err
			}
			return header.Filename, data, nil
		}
		return "", nil, fmt.Errorf("%w: a .torrent file is required", service.ErrInvalidInput)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}

	filename := r.Header.Get("X-Filename")
	if filename == "" {
		filename = r.URL.Query().Get("filename")
	}
	return filename, data, nil
}

// handlePause pauses a torrent
func (d *Daemon) handlePause(w http.ResponseWriter, r *http.Request) {
	snap, err := d.service.Pause(torrentID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteOK(w, snap)
}

// handleResume resumes a torrent
func (d *Daemon) handleResume(w http.ResponseWriter, r *http.Request) {
	snap, err := d.service.Resume(torrentID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteOK(w, snap)
}

// handleRemove removes a torrent and its data
func (d *Daemon) handleRemove(w http.ResponseWriter, r *http.Request) {
	snap, err := d.service.Remove(r.Context(), torrentID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteOK(w, snap)
}

// handleFiles lists the files of a torrent
func (d *Daemon) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := d.service.ListFiles(torrentID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	api.WriteOK(w, FilesResponse{Files: files})
}

// handleStream serves a file of a torrent, honouring a single byte range.
func (d *Daemon) handleStream(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, fmt.Errorf("%w: file %q for this torrent", service.ErrNotFound, chi.URLParam(r, "index")))
		return
	}

	file, err := d.service.OpenFile(torrentID(r), index)
	if err != nil {
		writeError(w, err)
		return
	}

	size := file.Length()
	rng, err := service.ParseByteRange(r.Header.Get("Range"), size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeError(w, err)
		return
	}

	reader, err := file.NewReader(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer reader.Close()

	if rng.Start > 0 {
		if _, err := reader.Seek(rng.Start, io.SeekStart); err != nil {
			writeError(w, err)
			return
		}
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))

	status := http.StatusOK
	if rng.Partial {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if rng.Length() <= 0 {
		return
	}
	if _, err := io.CopyN(w, reader, rng.Length()); err != nil {
		d.logger.Debug("stream ended early",
			zap.String("file", file.Path()),
			zap.Error(err))
	}
}

// torrentID returns the unescaped {id} route parameter.
func torrentID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}

// writeError maps service errors to API errors.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, service.ErrInvalidInput):
		apiErr = api.BadRequest(err.Error())
	case errors.Is(err, service.ErrNotFound):
		apiErr = api.NotFound(err.Error())
	case errors.Is(err, service.ErrMetadataUnavailable):
		apiErr = api.Conflict(err.Error())
	case errors.Is(err, service.ErrRangeNotSatisfiable):
		apiErr = api.RangeNotSatisfiable(err.Error())
	default:
		apiErr = api.InternalServerError(strings.TrimSpace(err.Error()))
	}
	api.WriteError(w, apiErr)
}
