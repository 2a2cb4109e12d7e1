package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls how the process-wide logger is configured.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string
	// FilePath enables rotating file output when non-empty. "-" disables it.
	FilePath string
	// MaxFileBytes caps each rotated log file. Zero means no size rollover.
	MaxFileBytes int64
	// Console enables human-readable output on stderr alongside the file.
	Console bool
}

// Setup configures the global zerolog logger and returns a closer for the
// rotating file sink (a no-op when no file is configured).
func Setup(opts Options) (io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLevel(opts.Level))

	var writers []io.Writer
	var closer io.Closer
	if strings.TrimSpace(opts.FilePath) != "" {
		f, err := NewRotatingWriter(opts.FilePath, opts.MaxFileBytes)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}

	out := writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	if closer == nil {
		closer = nopCloser{}
	}
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
