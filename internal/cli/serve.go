package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/libreseed/torrentio/pkg/daemon"
	"github.com/libreseed/torrentio/pkg/engine"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the torrent engine and HTTP API",
	Long: `Start the embedded torrent engine and serve the HTTP API.

The daemon will:
  1. Load configuration from file and environment
  2. Start the BitTorrent client and DHT
  3. Restore torrents from the saved session
  4. Serve the REST API, live events and file streams
  5. Save the session on shutdown`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// No defaults here so config file and environment values still apply
	serveCmd.Flags().String("host", "", "HTTP listen host")
	serveCmd.Flags().Int("port", 0, "HTTP listen port")
	serveCmd.Flags().String("download-dir", "", "directory torrents are downloaded to")
	serveCmd.Flags().String("watch-dir", "", "directory watched for .torrent files")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("storage.download_dir", serveCmd.Flags().Lookup("download-dir"))
	_ = viper.BindPFlag("watch.dir", serveCmd.Flags().Lookup("watch-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting torrentiod",
		zap.String("version", Version),
		zap.String("addr", cfg.Addr()),
		zap.String("download_dir", cfg.Storage.DownloadDir))

	client := engine.NewEngine(cfg, logger)

	d, err := daemon.New(cfg, client, logger, daemon.WithVersion(Version))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon stopped with error", zap.Error(err))
		return err
	}

	logger.Info("torrentiod stopped")
	return nil
}
