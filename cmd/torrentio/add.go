package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/libreseed/torrentio/pkg/daemon"
	"github.com/libreseed/torrentio/pkg/snapshot"
)

// addCommand adds a torrent by source, or uploads a local .torrent file.
// Usage: torrentio add <magnet|hash|url|file.torrent>
func addCommand(c *apiClient, w io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: torrentio add <magnet|hash|url|file.torrent>")
	}
	source := args[0]

	var snap snapshot.Snapshot
	if strings.HasSuffix(strings.ToLower(source), ".torrent") {
		if info, err := os.Stat(source); err == nil && !info.IsDir() {
			if err := uploadFile(c, source, &snap); err != nil {
				return err
			}
			fmt.Fprintf(w, "✓ Uploaded %s\n", filepath.Base(source))
			printSnapshot(w, snap)
			return nil
		}
	}

	body, err := json.Marshal(daemon.AddRequest{Source: source})
	if err != nil {
		return fmt.Errorf("failed to create request body: %w", err)
	}
	if err := c.do(http.MethodPost, "/torrents", "application/json", bytes.NewReader(body), &snap); err != nil {
		return err
	}

	fmt.Fprintln(w, "✓ Torrent added")
	printSnapshot(w, snap)
	return nil
}

func uploadFile(c *apiClient, path string, out *snapshot.Snapshot) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("torrent", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return c.do(http.MethodPost, "/torrents/upload", writer.FormDataContentType(), body, out)
}
