package logger

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// LogContext holds the fields that identify one session in every line it
// logs. Values are copied on change; a LogContext in a context is never
// mutated.
type LogContext struct {
	SessionID  string
	RemoteAddr string
	Mechanism  string

	// OpenTelemetry ids of the session span, empty when not sampled.
	TraceID string
	SpanID  string
}

// NewLogContext creates the LogContext of the session id on remoteAddr.
func NewLogContext(sessionID, remoteAddr string) *LogContext {
	return &LogContext{SessionID: sessionID, RemoteAddr: remoteAddr}
}

// WithContext returns a copy of ctx carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext carried by ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// WithMechanism returns a copy with the authentication mechanism set.
func (lc *LogContext) WithMechanism(mechanism string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.Mechanism = mechanism
	return &c
}

// WithTrace returns a copy with the span ids set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.TraceID, c.SpanID = traceID, spanID
	return &c
}

// attrs renders the set fields under the standard keys.
func (lc *LogContext) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 5)
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	add(KeySessionID, lc.SessionID)
	add(KeyRemoteAddr, lc.RemoteAddr)
	add(KeyMechanism, lc.Mechanism)
	add(KeyTraceID, lc.TraceID)
	add(KeySpanID, lc.SpanID)
	return attrs
}
