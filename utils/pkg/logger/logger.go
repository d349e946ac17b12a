package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options controls the handler New builds.
type Options struct {
	Verbose bool
	Writer  io.Writer
	NoColor bool
	// Component is attached to every record when set.
	Component string
}

// New returns a tint logger on stdout, debug level when verbose.
func New(verbose bool) *slog.Logger {
	return NewWithOptions(Options{Verbose: verbose})
}

// NewWithOptions builds a tint logger writing to opts.Writer, stdout when nil.
func NewWithOptions(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	log := slog.New(tint.NewHandler(w, &tint.Options{
		Level:       level,
		NoColor:     opts.NoColor,
		ReplaceAttr: replaceAttr,
	}))
	if opts.Component != "" {
		log = log.With("component", opts.Component)
	}
	return log
}

// replaceAttr renders timestamps in UTC and drops empty string attributes.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
	}
	if s, ok := a.Value.Any().(string); ok && s == "" {
		return slog.Attr{}
	}
	return a
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s.%03dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/1_000_000)
}
