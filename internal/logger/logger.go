// Package logger is the process-wide structured logger of gridauth.
//
// Messages go through log/slog. Session fields (session id, remote address,
// mechanism, trace ids) travel in the context as a LogContext and are added
// by the handler, so call sites only pass what is specific to the message.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or file path (opened in append mode)
}

const (
	FormatText = "text"
	FormatJSON = "json"
)

var (
	// level is shared by every handler built, so SetLevel needs no rebuild.
	level = new(slog.LevelVar)

	mu      sync.RWMutex
	out     io.Writer = os.Stdout
	color             = isTerminal(os.Stdout.Fd())
	format            = FormatText
	slogger *slog.Logger
)

func init() {
	rebuild()
}

// parseLevel accepts the level names of the configuration, case-insensitive.
func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	return 0, false
}

func rebuild() {
	mu.Lock()
	defer mu.Unlock()

	var h slog.Handler
	if format == FormatJSON {
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		h = newTextHandler(out, level, color)
	}
	slogger = slog.New(&contextHandler{next: h})
}

// Init opens the sink named by cfg.Output and routes all log output to it.
// The returned sink is owned by the caller, who must Close it on shutdown.
func Init(cfg Config) (*Sink, error) {
	sink, err := OpenSink(cfg.Output)
	if err != nil {
		return nil, err
	}
	InitWithSink(sink, cfg.Level, cfg.Format)
	return sink, nil
}

// InitWithSink routes log output to an already opened sink.
func InitWithSink(sink *Sink, lvl, fmtName string) {
	InitWithWriter(sink, lvl, fmtName, sink.IsTerminal())
}

// InitWithWriter routes log output to w. Empty level or format keep the
// current setting.
func InitWithWriter(w io.Writer, lvl, fmtName string, enableColor bool) {
	mu.Lock()
	out = w
	color = enableColor
	mu.Unlock()

	SetLevel(lvl)
	SetFormat(fmtName)
	rebuild()
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := parseLevel(name); ok {
		level.Set(l)
	}
}

// CurrentLevel returns the minimum level.
func CurrentLevel() slog.Level {
	return level.Level()
}

// SetFormat selects text or json output. Unknown names are ignored.
func SetFormat(name string) {
	name = strings.ToLower(name)
	if name != FormatText && name != FormatJSON {
		return
	}
	mu.Lock()
	changed := format != name
	format = name
	mu.Unlock()
	if changed {
		rebuild()
	}
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return slogger
}

// Debug logs at debug level with key/value pairs or slog.Attrs.
func Debug(msg string, args ...any) { get().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { get().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { get().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { get().Error(msg, args...) }

// DebugCtx logs at debug level with the session fields carried by ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) { get().DebugContext(ctx, msg, args...) }

// InfoCtx logs at info level with the session fields carried by ctx.
func InfoCtx(ctx context.Context, msg string, args ...any) { get().InfoContext(ctx, msg, args...) }

// WarnCtx logs at warn level with the session fields carried by ctx.
func WarnCtx(ctx context.Context, msg string, args ...any) { get().WarnContext(ctx, msg, args...) }

// ErrorCtx logs at error level with the session fields carried by ctx.
func ErrorCtx(ctx context.Context, msg string, args ...any) { get().ErrorContext(ctx, msg, args...) }

// With returns a logger that adds args to every record.
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// contextHandler adds the LogContext fields of the record's context ahead
// of the record's own attributes.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	lc := FromContext(ctx)
	if lc == nil {
		return h.next.Handle(ctx, r)
	}

	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	nr.AddAttrs(lc.attrs()...)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, nr)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}
