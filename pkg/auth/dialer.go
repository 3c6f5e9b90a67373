package auth

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Dialer opens a client connection and completes the handshake, returning
// once the server has accepted the credential.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

func (f DialerFunc) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// TokenSource produces the initiator side of a token mechanism.
type TokenSource interface {
	// Mechanism names the mechanism, e.g. "kerberos".
	Mechanism() string

	// InitialToken returns the token presented to the acceptor.
	InitialToken(ctx context.Context) ([]byte, error)

	// VerifyReply checks the acceptor's reply token. It is called only when
	// the acceptor accepted the handshake.
	VerifyReply(token []byte) error
}

// TokenDialer is the client side of TokenAcceptor.
type TokenDialer struct {
	Source TokenSource

	// Timeout bounds connection establishment and the handshake. Zero
	// means no limit beyond ctx.
	Timeout time.Duration

	// NetDialer is used to open the TCP connection. Nil uses a zero net.Dialer.
	NetDialer *net.Dialer
}

func (d *TokenDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	if d.Source == nil {
		return nil, ErrNoCredential
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	mech := d.Source.Mechanism()
	token, err := d.Source.InitialToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: acquire initial token: %w", mech, err)
	}

	nd := d.NetDialer
	if nd == nil {
		nd = &net.Dialer{}
	}
	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	if err := d.handshake(ctx, c, mech, token); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (d *TokenDialer) handshake(ctx context.Context, c net.Conn, mech string, token []byte) error {
	if err := setHandshakeDeadline(ctx, c, 0); err != nil {
		return err
	}
	if err := writeFrame(c, &initFrame{Mechanism: mech, Token: token}); err != nil {
		return &HandshakeError{Mechanism: mech, Reason: "sending initial token", Err: err}
	}

	var reply replyFrame
	if err := readFrame(c, &reply); err != nil {
		return &HandshakeError{Mechanism: mech, Reason: "reading reply", Err: err}
	}
	if !reply.Accepted {
		return &HandshakeError{Mechanism: mech, Reason: reply.Reason, Err: ErrAuthFailed}
	}
	if err := d.Source.VerifyReply(reply.Token); err != nil {
		return &HandshakeError{Mechanism: mech, Reason: "verifying reply", Err: err}
	}
	return c.SetDeadline(time.Time{})
}
