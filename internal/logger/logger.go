// Package logger provides the pipeline's structured logger: one
// process-wide zerolog instance, writing JSON lines to stderr (console
// format when Config.Console is set) and appending JSON lines to a run log
// file, with stage and book_hash carried as scoped fields. It does not
// emit plain key=value text lines.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// Logger wraps zerolog.Logger so the rest of the pipeline depends on this
// package's interface rather than zerolog directly.
type Logger struct {
	zerolog.Logger
}

var (
	global     *Logger
	globalOnce sync.Once
	globalMu   sync.Mutex
)

// Config controls how the global logger is constructed.
type Config struct {
	Level   string // debug|info|warn|error
	Console bool   // console-format stderr instead of JSON
	LogDir  string // if non-empty, append JSON lines to <LogDir>/convert.log
}

// Setup initializes the global logger. Safe to call once at process start;
// subsequent calls replace the global logger (tests call this repeatedly).
func Setup(cfg Config) *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var stderrWriter io.Writer = os.Stderr
	if cfg.Console {
		stderrWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{stderrWriter}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
			if f, err := os.OpenFile(filepath.Join(cfg.LogDir, "convert.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				writers = append(writers, f)
			}
		}
	}

	base := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	global = &Logger{Logger: base}
	globalOnce.Do(func() {})
	return global
}

// Get returns the global logger, lazily defaulting to an info-level
// stderr-only logger if Setup was never called.
func Get() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &Logger{Logger: zerolog.New(os.Stderr).Level(zerolog.InfoLevel).With().Timestamp().Logger()}
	}
	return global
}

// WithStage returns a child logger scoped to a pipeline stage and book hash,
// matching the `stage=<name> book_hash=<16hex>` log fields.
func (l *Logger) WithStage(stage, bookHash string) *Logger {
	return &Logger{Logger: l.Logger.With().Str("stage", stage).Str("book_hash", bookHash).Logger()}
}

// With returns a child logger with one additional string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{Logger: l.Logger.With().Str(key, value).Logger()}
}

type ctxKey struct{}

// NewContext stashes a logger on ctx.
func NewContext(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves a logger from ctx, falling back to Get().
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
			return l
		}
	}
	return Get()
}
