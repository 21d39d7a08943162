package main

import (
	"os"

	"github.com/libreseed/torrentio/internal/cli"
)

var version = "dev" // Set via ldflags during build

func main() {
	if version != "dev" {
		cli.Version = version
	}
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
