package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

const timeLayout = "2006-01-02 15:04:05.000"

// textHandler writes one human-readable line per record:
//
//	2026-03-01 10:04:05.120 INFO  [7c1e0b 10.0.0.7:51234] Authentication successful mechanism=x509 identity=alice
//
// The session id and remote address are lifted out of the attributes into
// the bracketed prefix so concurrent sessions can be told apart at a glance.
// Trace and span ids are only written at debug level.
type textHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Leveler
	color bool

	group   string // dotted group path, with trailing dot
	preset  []byte // attributes from WithAttrs, rendered
	session string
	remote  string
}

func newTextHandler(w io.Writer, level slog.Leveler, color bool) *textHandler {
	return &textHandler{w: w, mu: &sync.Mutex{}, level: level, color: color}
}

func (h *textHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	session, remote := h.session, h.remote
	var attrs []byte
	r.Attrs(func(a slog.Attr) bool {
		if h.group == "" {
			switch a.Key {
			case KeySessionID:
				session = a.Value.String()
				return true
			case KeyRemoteAddr:
				remote = a.Value.String()
				return true
			case KeyTraceID, KeySpanID:
				if h.level.Level() > slog.LevelDebug {
					return true
				}
			}
		}
		attrs = h.appendAttr(attrs, h.group, a)
		return true
	})

	buf := make([]byte, 0, 96+len(r.Message)+len(h.preset)+len(attrs))
	if !r.Time.IsZero() {
		buf = r.Time.AppendFormat(buf, timeLayout)
		buf = append(buf, ' ')
	}
	buf = h.appendLevel(buf, r.Level)
	if session != "" || remote != "" {
		buf = append(buf, " ["...)
		buf = append(buf, strings.TrimSpace(session+" "+remote)...)
		buf = append(buf, ']')
	}
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	buf = append(buf, h.preset...)
	buf = append(buf, attrs...)
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *textHandler) appendLevel(buf []byte, l slog.Level) []byte {
	name, color := "ERROR", ansiRed
	switch {
	case l < slog.LevelInfo:
		name, color = "DEBUG", ansiGray
	case l < slog.LevelWarn:
		name, color = "INFO ", ansiGreen
	case l < slog.LevelError:
		name, color = "WARN ", ansiYellow
	}
	if !h.color {
		return append(buf, name...)
	}
	buf = append(buf, color...)
	buf = append(buf, name...)
	return append(buf, ansiReset...)
}

func (h *textHandler) appendAttr(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		prefix := group
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}

	key := group + a.Key
	buf = append(buf, ' ')
	if h.color {
		buf = append(buf, ansiCyan...)
		buf = append(buf, key...)
		buf = append(buf, ansiReset...)
	} else {
		buf = append(buf, key...)
	}
	buf = append(buf, '=')

	if h.color && a.Key == KeyError {
		buf = append(buf, ansiRed...)
		buf = appendValue(buf, a.Value)
		return append(buf, ansiReset...)
	}
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		return append(buf, v.String()...)
	}
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.preset = append([]byte(nil), h.preset...)
	for _, a := range attrs {
		if h.group == "" && a.Key == KeySessionID {
			c.session = a.Value.String()
			continue
		}
		if h.group == "" && a.Key == KeyRemoteAddr {
			c.remote = a.Value.String()
			continue
		}
		c.preset = h.appendAttr(c.preset, h.group, a)
	}
	return &c
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.group = h.group + name + "."
	return &c
}
