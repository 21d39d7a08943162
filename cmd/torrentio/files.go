package main

import (
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"github.com/libreseed/torrentio/pkg/daemon"
)

// filesCommand lists the files of a torrent with their stream URLs.
// Usage: torrentio files <id>
func filesCommand(c *apiClient, w io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: torrentio files <id>")
	}
	id := args[0]

	var resp daemon.FilesResponse
	if err := c.do(http.MethodGet, torrentPath(id, "/files"), "", nil, &resp); err != nil {
		return err
	}

	if len(resp.Files) == 0 {
		fmt.Fprintln(w, "No files yet (metadata not resolved).")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tSIZE\tSTREAM")
	for _, f := range resp.Files {
		stream := "-"
		if f.Streamable {
			stream = c.baseURL + torrentPath(id, fmt.Sprintf("/files/%d/stream", f.Index))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.Index, f.Name, f.Size, stream)
	}
	return tw.Flush()
}
