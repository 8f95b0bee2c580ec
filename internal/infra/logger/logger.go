// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Config represents logger configuration.
type Config struct {
	Output  string // "stdout", "stderr", "discard", or "file"
	Level   string // "debug", "info", "warn", "error"
	File    string // log file path (used when Output is "file")
	NoColor bool   // disable ANSI colors on console output
}

// Init initializes the global zerolog logger with the given configuration.
// The returned closer releases the log file, if any.
func Init(cfg Config) (io.Closer, error) {
	level := parseLevel(cfg.Level)

	writer, console, closer, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.TimeOnly
	zerolog.TimestampFieldName = "time"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "message"
	zerolog.CallerMarshalFunc = shortCaller

	logger := build(writer, console, cfg.NoColor, level)
	zerolog.DefaultContextLogger = &logger
	zlog.Logger = logger

	return closer, nil
}

func openOutput(cfg Config) (w io.Writer, console bool, closer io.Closer, err error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr", "":
		return os.Stderr, true, io.NopCloser(nil), nil
	case "stdout":
		return os.Stdout, true, io.NopCloser(nil), nil
	case "discard":
		return io.Discard, false, io.NopCloser(nil), nil
	default:
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, false, nil, errors.Wrapf(err, "failed to open log file %s", cfg.File)
		}
		return f, false, f, nil
	}
}

// build uses ConsoleWriter for terminals and JSON for files. Caller
// information is added only at debug level.
func build(w io.Writer, console, noColor bool, level zerolog.Level) zerolog.Logger {
	debug := level == zerolog.DebugLevel
	if !console {
		ctx := zerolog.New(w).With().Timestamp()
		if debug {
			return ctx.Caller().Logger()
		}
		return ctx.Logger()
	}

	cw := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: time.TimeOnly,
	}
	if !debug {
		return zerolog.New(cw).With().Timestamp().Logger()
	}
	cw.PartsOrder = []string{"time", "level", "message", "caller"}
	cw.FormatCaller = func(i interface{}) string {
		if s, ok := i.(string); ok {
			return "(" + s + ")"
		}
		return ""
	}
	return zerolog.New(cw).With().Timestamp().Caller().Logger()
}

// shortCaller trims the caller path to "package/file.go:line".
func shortCaller(pc uintptr, file string, line int) string {
	parts := strings.Split(file, string(filepath.Separator))
	if len(parts) > 1 {
		return filepath.Join(parts[len(parts)-2:]...) + ":" + strconv.Itoa(line)
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// parseLevel parses the log level string.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
