package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/libreseed/torrentio/pkg/snapshot"
)

// pauseCommand pauses a torrent.
// Usage: torrentio pause <id>
func pauseCommand(c *apiClient, w io.Writer, args []string) error {
	return mutate(c, w, args, "pause", http.MethodPost, "/pause", "✓ Torrent paused")
}

// resumeCommand resumes a torrent.
// Usage: torrentio resume <id>
func resumeCommand(c *apiClient, w io.Writer, args []string) error {
	return mutate(c, w, args, "resume", http.MethodPost, "/resume", "✓ Torrent resumed")
}

// removeCommand removes a torrent and its downloaded data.
// Usage: torrentio remove <id>
func removeCommand(c *apiClient, w io.Writer, args []string) error {
	return mutate(c, w, args, "remove", http.MethodDelete, "", "✓ Torrent removed")
}

func mutate(c *apiClient, w io.Writer, args []string, name, method, suffix, done string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: torrentio %s <id>", name)
	}

	var snap snapshot.Snapshot
	if err := c.do(method, torrentPath(args[0], suffix), "", nil, &snap); err != nil {
		return err
	}

	fmt.Fprintln(w, done)
	printSnapshot(w, snap)
	return nil
}
