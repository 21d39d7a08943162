package service

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/libreseed/torrentio/pkg/engine"
	"github.com/libreseed/torrentio/pkg/format"
)

var streamableExts = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".webm": true,
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".ogg":  true,
}

// FileInfo describes one file of a torrent.
type FileInfo struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Size       string `json:"size"`
	Path       string `json:"path"`
	Streamable bool   `json:"streamable"`
}

// IsStreamable reports whether a browser can play name directly.
func IsStreamable(name string) bool {
	return streamableExts[strings.ToLower(path.Ext(name))]
}

// ListFiles returns the files of a torrent, empty until metadata arrives.
func (s *Service) ListFiles(id string) ([]FileInfo, error) {
	s.mu.Lock()
	h := s.findByID(id)
	s.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("%w: torrent %q", ErrNotFound, id)
	}

	files := h.Files()
	infos := make([]FileInfo, 0, len(files))
	for i, f := range files {
		infos = append(infos, FileInfo{
			Index:      i,
			Name:       f.Name(),
			Size:       format.Bytes(float64(f.Length())),
			Path:       f.Path(),
			Streamable: IsStreamable(f.Name()),
		})
	}
	return infos, nil
}

// OpenFile returns file index of a torrent for streaming.
func (s *Service) OpenFile(id string, index int) (engine.File, error) {
	s.mu.Lock()
	h := s.findByID(id)
	s.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("%w: torrent %q", ErrNotFound, id)
	}

	files := h.Files()
	if len(files) == 0 {
		return nil, ErrMetadataUnavailable
	}
	if index < 0 || index >= len(files) {
		return nil, fmt.Errorf("%w: file %d for this torrent", ErrNotFound, index)
	}
	return files[index], nil
}

// ByteRange is an inclusive byte interval of a file.
type ByteRange struct {
	Start   int64
	End     int64
	Partial bool
}

// Length returns the number of bytes in r.
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ParseByteRange interprets a Range header against a file of size bytes.
// An empty header selects the whole file. Otherwise the header must be
// bytes=start-end with an optional end, and 0 <= start <= end < size.
func ParseByteRange(header string, size int64) (ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ByteRange{Start: 0, End: size - 1}, nil
	}

	unsatisfiable := fmt.Errorf("%w: %q for size %d", ErrRangeNotSatisfiable, header, size)

	startStr, endStr, ok := strings.Cut(strings.TrimPrefix(header, "bytes="), "-")
	if !ok {
		return ByteRange{}, unsatisfiable
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil {
		return ByteRange{}, unsatisfiable
	}

	end := size - 1
	if endStr = strings.TrimSpace(endStr); endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return ByteRange{}, unsatisfiable
		}
	}

	if start < 0 || start > end || end >= size {
		return ByteRange{}, unsatisfiable
	}
	return ByteRange{Start: start, End: end, Partial: true}, nil
}
