package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantError bool
	}{
		{
			name:      "valid json debug",
			level:     "debug",
			format:    "json",
			wantError: false,
		},
		{
			name:      "valid console info",
			level:     "info",
			format:    "console",
			wantError: false,
		},
		{
			name:      "invalid level",
			level:     "invalid",
			format:    "json",
			wantError: true,
		},
		{
			name:      "invalid format",
			level:     "info",
			format:    "invalid",
			wantError: true,
		},
		{
			name:      "case insensitive format",
			level:     "info",
			format:    "JSON",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if (err != nil) != tt.wantError {
				t.Errorf("NewLogger() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if !tt.wantError && logger == nil {
				t.Error("expected logger to be non-nil")
			}
		})
	}
}

func TestLoggerLevelEnabled(t *testing.T) {
	tests := []struct {
		level    string
		enabled  []zapcore.Level
		disabled []zapcore.Level
	}{
		{
			level:   "debug",
			enabled: []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.ErrorLevel},
		},
		{
			level:    "warn",
			enabled:  []zapcore.Level{zapcore.WarnLevel, zapcore.ErrorLevel},
			disabled: []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel},
		},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(tt.level, "json")
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}

			for _, lvl := range tt.enabled {
				if logger.Core().Enabled(lvl) == false {
					t.Errorf("expected %s to be enabled", lvl)
				}
			}
			for _, lvl := range tt.disabled {
				if logger.Core().Enabled(lvl) {
					t.Errorf("expected %s to be disabled", lvl)
				}
			}
		})
	}
}

func TestLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrentio.log")

	logger, err := New(Options{
		Level:      "info",
		Format:     "console",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("torrent added", zap.String("info_hash", "0123456789012345678901234567890123456789"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	if !strings.Contains(string(data), `"info_hash":"0123456789012345678901234567890123456789"`) {
		t.Errorf("expected JSON entry in log file, got %q", string(data))
	}
}
