package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for authentication sessions.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	AttrClientAddr = "client.address"
	AttrSessionID  = "session.id"

	AttrAuthMechanism = "auth.mechanism"
	AttrAuthSubject   = "auth.subject"
	AttrAuthIdentity  = "auth.local_identity"

	AttrResponseStatus = "response.status_code"
	AttrOutcome        = "session.outcome"

	AttrStoreType = "store.type"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanSession       = "session.serve"
	SpanHandshake     = "session.handshake"
	SpanMapIdentity   = "session.map_identity"
	SpanSendResponse  = "session.send_response"
	SpanClientRun     = "client.run"
	SpanStoreRecord   = "store.record_session"
	SpanPrincipalScan = "store.lookup_principals"
)

// RemoteAddr returns an attribute for the peer address
func RemoteAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// SessionID returns an attribute for the session identifier
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// Mechanism returns an attribute for the authentication mechanism
func Mechanism(name string) attribute.KeyValue {
	return attribute.String(AttrAuthMechanism, name)
}

// Subject returns an attribute for the authenticated credential name
func Subject(name string) attribute.KeyValue {
	return attribute.String(AttrAuthSubject, name)
}

// Identity returns an attribute for the mapped local identity
func Identity(name string) attribute.KeyValue {
	return attribute.String(AttrAuthIdentity, name)
}

// Status returns an attribute for the response status code
func Status(code int32) attribute.KeyValue {
	return attribute.Int(AttrResponseStatus, int(code))
}

// Outcome returns an attribute for the terminal session outcome
func Outcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// StoreType returns an attribute for the persistence backend
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}
