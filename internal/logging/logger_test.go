package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/cortexuvula/collabrelay/internal/config"
	"github.com/cortexuvula/collabrelay/internal/logring"
)

func TestSetupStdout(t *testing.T) {
	l := Setup(config.LoggingConfig{Level: "info", Format: "json"}, nil)
	defer l.Close()
	if l.LogsToFile() {
		t.Error("expected stdout logging")
	}
	slog.Info("test message", "key", "value")
}

func TestSetupFileLogging(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "relay.log")

	l := Setup(config.LoggingConfig{Level: "info", Format: "text", File: logFile, MaxSizeMB: 10, MaxBackups: 1, MaxAgeDays: 7}, nil)
	defer l.Close()
	if !l.LogsToFile() {
		t.Fatal("expected file logging")
	}

	slog.Info("file log test", "key", "value")

	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if info.Size() == 0 {
		t.Error("log file is empty")
	}
}

func TestSetupTeesIntoRing(t *testing.T) {
	ring := logring.NewRingBuffer(10)
	l := Setup(config.LoggingConfig{Level: "warn", Format: "json"}, ring)
	defer l.Close()

	slog.Info("below level")
	slog.Warn("slow consumer", "workspace", "w")
	if ring.Len() != 1 {
		t.Fatalf("ring holds %d entries, want 1", ring.Len())
	}

	l.SetLevel("debug")
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("SetLevel did not lower the live level")
	}
	slog.Debug("now visible")
	if ring.Len() != 2 {
		t.Errorf("ring holds %d entries after level change, want 2", ring.Len())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // default fallback
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
