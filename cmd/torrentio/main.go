package main

import (
	"fmt"
	"io"
	"os"
)

var version = "dev" // Set via ldflags during build

const defaultAddr = "http://127.0.0.1:3001"

// getAPIAddr returns the daemon API address from env var or default
func getAPIAddr() string {
	if addr := os.Getenv("TORRENTIO_ADDR"); addr != "" {
		return addr
	}
	return defaultAddr
}

type command func(c *apiClient, w io.Writer, args []string) error

var commands = map[string]command{
	"list":   listCommand,
	"add":    addCommand,
	"pause":  pauseCommand,
	"resume": resumeCommand,
	"remove": removeCommand,
	"files":  filesCommand,
	"status": statusCommand,
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	name := os.Args[1]
	args := os.Args[2:]

	switch name {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	case "version", "--version", "-v":
		fmt.Printf("torrentio version %s\n", version)
		return
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err := cmd(newAPIClient(getAPIAddr()), os.Stdout, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "torrentio - torrentio daemon CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  torrentio list                     List torrents and transfer totals")
	fmt.Fprintln(w, "  torrentio add <magnet|hash|url>    Add a torrent")
	fmt.Fprintln(w, "  torrentio add <file.torrent>       Upload a .torrent file")
	fmt.Fprintln(w, "  torrentio pause <id>               Pause a torrent")
	fmt.Fprintln(w, "  torrentio resume <id>              Resume a torrent")
	fmt.Fprintln(w, "  torrentio remove <id>              Remove a torrent and its data")
	fmt.Fprintln(w, "  torrentio files <id>               List the files of a torrent")
	fmt.Fprintln(w, "  torrentio status                   Show daemon status")
	fmt.Fprintln(w, "  torrentio version                  Show version information")
	fmt.Fprintln(w, "  torrentio help                     Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintf(w, "  TORRENTIO_ADDR    Daemon API address (default: %s)\n", defaultAddr)
}
