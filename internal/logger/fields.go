package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Connection
	KeySessionID   = "session_id"
	KeyRemoteAddr  = "remote_addr"
	KeyListenAddr  = "listen_addr"
	KeyActiveConns = "active_connections"
	KeyMaxConns    = "max_connections"

	// Authentication
	KeyMechanism = "mechanism" // kerberos, x509, ...
	KeySubject   = "subject"   // authenticated credential name (principal or DN)
	KeyPrincipal = "principal" // a local principal name bound to the credential
	KeyIdentity  = "identity"  // selected local identity
	KeyRealm     = "realm"
	KeySPN       = "spn"

	// Session state machine
	KeyState   = "state"
	KeyOutcome = "outcome"
	KeyStatus  = "status"

	// Client
	KeyHost     = "host"
	KeyPort     = "port"
	KeyUserFile = "user_file"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyPath       = "path"
	KeyCount      = "count"
	KeyReason     = "reason"
)

// RemoteAddr returns a slog.Attr for the peer address of a connection
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// Mechanism returns a slog.Attr for the authentication mechanism
func Mechanism(name string) slog.Attr {
	return slog.String(KeyMechanism, name)
}

// Subject returns a slog.Attr for the authenticated credential name
func Subject(name string) slog.Attr {
	return slog.String(KeySubject, name)
}

// Identity returns a slog.Attr for the selected local identity; an absent
// identity is logged as "-".
func Identity(name string, ok bool) slog.Attr {
	if !ok {
		return slog.String(KeyIdentity, "-")
	}
	return slog.String(KeyIdentity, name)
}

// Status returns a slog.Attr for a response status code
func Status(code int32) slog.Attr {
	return slog.Int(KeyStatus, int(code))
}

// DurationMs returns a slog.Attr with the elapsed time in milliseconds
func DurationMs(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMs, float64(d.Microseconds())/1000.0)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
