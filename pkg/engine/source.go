package engine

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

// maxMetainfoSize bounds .torrent downloads from URL sources.
const maxMetainfoSize = 10 << 20

// SourceHash extracts the content hash a source identifies without touching
// the network: the btih of a magnet URI (hex or base32) or a bare 40
// character hex hash. The result is lowercase hex.
func SourceHash(source string) (string, bool) {
	source = strings.TrimSpace(source)

	if IsInfoHash(source) {
		return strings.ToLower(source), true
	}

	if !strings.HasPrefix(strings.ToLower(source), "magnet:") {
		return "", false
	}

	m, err := metainfo.ParseMagnetUri(source)
	if err != nil {
		return "", false
	}
	return m.InfoHash.HexString(), true
}

// IsInfoHash reports whether s is a 40 character hex info hash.
func IsInfoHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func isURL(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// fetchMetainfo downloads and parses a .torrent file.
func fetchMetainfo(ctx context.Context, client *http.Client, url string) (*metainfo.MetaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrInvalidSource, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching %s: status %d", ErrInvalidSource, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMetainfoSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %v", ErrInvalidSource, url, err)
	}
	if len(data) > maxMetainfoSize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrInvalidSource, url, maxMetainfoSize)
	}

	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetainfo, err)
	}
	return mi, nil
}
