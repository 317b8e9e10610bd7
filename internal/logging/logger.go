package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cortexuvula/collabrelay/internal/config"
	"github.com/cortexuvula/collabrelay/internal/logring"
)

// Logger is the installed default logger. Level can be changed in place on
// config reload without reopening the output.
type Logger struct {
	Level *slog.LevelVar
	file  *lumberjack.Logger
}

// Setup configures the global slog logger. When ring is non-nil every record
// that passes the level is also kept there.
func Setup(cfg config.LoggingConfig, ring *logring.RingBuffer) *Logger {
	var w io.Writer = os.Stdout
	l := &Logger{Level: new(slog.LevelVar)}

	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = l.file
	}
	l.Level.Set(ParseLevel(cfg.Level))

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: l.Level}
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	if ring != nil {
		handler = logring.NewTeeHandler(handler, ring)
	}

	slog.SetDefault(slog.New(handler))
	return l
}

// SetLevel applies a level name from config.
func (l *Logger) SetLevel(level string) {
	l.Level.Set(ParseLevel(level))
}

// LogsToFile reports whether output goes to a rotated file.
func (l *Logger) LogsToFile() bool {
	return l.file != nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
