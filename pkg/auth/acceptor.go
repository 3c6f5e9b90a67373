package auth

import (
	"context"
	"errors"
	"net"
	"time"
)

// Acceptor runs the server side of a handshake on a freshly accepted
// connection. On success it returns a Conn carrying the verified peer; on
// failure it returns an error (normally a *HandshakeError) and the caller
// closes raw.
type Acceptor interface {
	Accept(ctx context.Context, raw net.Conn) (Conn, error)
}

// AcceptorFunc adapts a function to Acceptor.
type AcceptorFunc func(ctx context.Context, raw net.Conn) (Conn, error)

func (f AcceptorFunc) Accept(ctx context.Context, raw net.Conn) (Conn, error) {
	return f(ctx, raw)
}

// TokenAcceptor accepts the framed token handshake: it reads the initiator's
// token, verifies it with the Authenticator and answers with a reply frame.
//
// Timeout is applied as a connection deadline for the duration of the
// handshake only. Zero means no deadline; the deadline from ctx is still
// honoured.
type TokenAcceptor struct {
	Authenticator *Authenticator
	Timeout       time.Duration
}

// NewTokenAcceptor creates a TokenAcceptor over the given providers.
func NewTokenAcceptor(providers ...Provider) *TokenAcceptor {
	return &TokenAcceptor{Authenticator: NewAuthenticator(providers...)}
}

func (a *TokenAcceptor) Accept(ctx context.Context, raw net.Conn) (Conn, error) {
	if err := setHandshakeDeadline(ctx, raw, a.Timeout); err != nil {
		return nil, &HandshakeError{Err: err}
	}

	var init initFrame
	if err := readFrame(raw, &init); err != nil {
		return nil, &HandshakeError{Reason: "reading initial token", Err: err}
	}
	if len(init.Token) == 0 {
		a.reject(raw, "empty token")
		return nil, &HandshakeError{Mechanism: init.Mechanism, Err: ErrInvalidCredentials}
	}

	res, err := a.Authenticator.Authenticate(ctx, init.Token)
	if err != nil {
		a.reject(raw, rejectReason(err))
		return nil, &HandshakeError{Mechanism: init.Mechanism, Err: err}
	}

	if err := writeFrame(raw, &replyFrame{Accepted: true, Token: res.Reply}); err != nil {
		return nil, &HandshakeError{Mechanism: res.Provider, Reason: "sending reply", Err: err}
	}
	if err := raw.SetDeadline(time.Time{}); err != nil {
		return nil, &HandshakeError{Mechanism: res.Provider, Err: err}
	}

	peer := res.Peer
	if peer != nil && peer.Mechanism == "" {
		peer.Mechanism = res.Provider
	}
	return NewConn(raw, peer), nil
}

// reject tells the initiator why the handshake failed. Errors are ignored:
// the connection is about to be closed.
func (a *TokenAcceptor) reject(raw net.Conn, reason string) {
	_ = writeFrame(raw, &replyFrame{Accepted: false, Reason: reason})
}

// rejectReason keeps verification details out of the reply sent to an
// unauthenticated peer.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedMechanism):
		return "unsupported mechanism"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid credentials"
	default:
		return "authentication failed"
	}
}

func setHandshakeDeadline(ctx context.Context, c net.Conn, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if deadline.IsZero() {
		return nil
	}
	return c.SetDeadline(deadline)
}
