package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/libreseed/torrentio/pkg/daemon"
)

func statusCommand(c *apiClient, w io.Writer, _ []string) error {
	var status daemon.StatusResponse
	if err := c.do(http.MethodGet, "/status", "", nil, &status); err != nil {
		fmt.Fprintln(w, "Daemon Status: UNREACHABLE")
		return err
	}

	fmt.Fprintf(w, "Daemon Status: %s\n", status.Status)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:      %s\n", status.Version)
	fmt.Fprintf(w, "  Uptime:       %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(w, "  Torrents:     %d\n", status.Torrents)
	fmt.Fprintf(w, "  Subscribers:  %d\n", status.Subscribers)
	if status.LastError != "" {
		fmt.Fprintf(w, "  Last Error:   %s\n", status.LastError)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Use 'torrentio list' for torrent details")
	return nil
}
