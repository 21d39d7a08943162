package main

import (
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"github.com/libreseed/torrentio/pkg/snapshot"
)

// listCommand lists all torrents.
// Usage: torrentio list
func listCommand(c *apiClient, w io.Writer, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("list command does not accept arguments")
	}

	var snap snapshot.Snapshot
	if err := c.do(http.MethodGet, "/torrents", "", nil, &snap); err != nil {
		return err
	}

	printSnapshot(w, snap)
	return nil
}

func printSnapshot(w io.Writer, snap snapshot.Snapshot) {
	if len(snap.Torrents) == 0 {
		fmt.Fprintln(w, "No torrents.")
		fmt.Fprintln(w, "\nUse 'torrentio add <magnet>' to add one.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPROGRESS\tSIZE\tDOWN\tUP\tETA\tPEERS")
	for _, t := range snap.Torrents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\t%s\t%s\t%d/%d\n",
			shortID(t.ID),
			truncate(t.Name, 40),
			t.Status,
			t.Progress,
			t.Size,
			t.DownloadSpeed,
			t.UploadSpeed,
			t.ETA,
			t.Seeds,
			t.Peers,
		)
	}
	tw.Flush()

	s := snap.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d of %d active  down %s  up %s  downloaded %s  uploaded %s  dht %d\n",
		s.ActiveTorrents, s.TotalTorrents,
		s.TotalDownloadSpeed, s.TotalUploadSpeed,
		s.TotalDownloaded, s.TotalUploaded,
		s.DHTNodes)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
