package lntesting

import (
	"log/slog"
	"os"

	"github.com/malbeclabs/lnguide/utils/pkg/logger"
)

// NewLogger returns a logger for tests. DEBUG=2 shows debug, DEBUG=1 info,
// otherwise only errors are printed.
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("DEBUG") {
	case "2":
		return logger.NewWithOptions(logger.Options{Verbose: true, Writer: os.Stderr, NoColor: true})
	case "1":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
