package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default slog logger for the given service. LOG_FORMAT
// selects "text" or "json" (default json); LOG_LEVEL selects debug, info,
// warn, or error (default info).
func Init(service string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)

	// Stray log.Printf calls from dependencies still come out structured.
	log.SetFlags(0)
	log.SetOutput(stdlibWriter{logger: logger})

	return logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type stdlibWriter struct {
	logger *slog.Logger
}

func (w stdlibWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"), slog.String("source", "stdlib"))
	return len(p), nil
}
