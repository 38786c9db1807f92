package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logger. Init replaces it; component loggers
// derived before Init keep the old output.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level is a configured log level name
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var levels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Levels lists the accepted level names, most verbose first
func Levels() []Level {
	return []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel}
}

// ParseLevel validates a level name
func ParseLevel(s string) (Level, error) {
	if _, ok := levels[Level(s)]; !ok {
		return "", fmt.Errorf("invalid log level %q, must be one of: %v", s, Levels())
	}
	return Level(s), nil
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer

	// File, when set, sends output to a size-rotated log file instead of
	// Output. Rotation limits fall back to lumberjack defaults when zero.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func (c Config) writer() io.Writer {
	if c.File != "" {
		return &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			Compress:   true,
		}
	}
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}

// Init configures the global level and replaces Logger. Unknown levels
// fall back to info.
func Init(cfg Config) {
	level, ok := levels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.writer()
	// rotated files are always JSON
	if !cfg.JSONOutput && cfg.File == "" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithParam creates a child logger with param field
func WithParam(name string) zerolog.Logger {
	return Logger.With().Str("param", name).Logger()
}
