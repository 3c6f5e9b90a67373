package auth

import (
	"context"
	"errors"
	"fmt"
)

// Provider defines a pluggable token authentication mechanism.
//
// Implementations handle specific authentication protocols (Kerberos/SPNEGO)
// and are chained together by the Authenticator. When a handshake token
// arrives, the Authenticator iterates through providers in order, calling
// CanHandle to find the appropriate provider, then Authenticate to verify it.
//
// Thread safety: implementations must be safe for concurrent use.
type Provider interface {
	// CanHandle returns true if this provider can process the given token.
	// Implementations should perform a fast check (magic bytes or OID prefix)
	// without full token parsing.
	CanHandle(token []byte) bool

	// Authenticate verifies a token and returns the result.
	//
	// Returning ErrUnsupportedMechanism lets the Authenticator try the next
	// provider; any other error rejects the handshake.
	Authenticate(ctx context.Context, token []byte) (*Result, error)

	// Name returns the provider name for logging and diagnostics.
	Name() string
}

// Result contains the outcome of a successful token authentication.
type Result struct {
	// Peer is the verified remote identity.
	Peer *Peer

	// Provider is the name of the Provider that handled this authentication.
	Provider string

	// Reply is an optional mechanism token returned to the initiator
	// (for example a SPNEGO NegTokenResp).
	Reply []byte
}

// Authenticator chains multiple Provider implementations and tries each in order.
//
// If no provider can handle the token, ErrUnsupportedMechanism is returned.
// Thread safety: safe for concurrent use (providers are read-only after construction).
type Authenticator struct {
	providers []Provider
}

// NewAuthenticator creates a new Authenticator with the given providers.
func NewAuthenticator(providers ...Provider) *Authenticator {
	return &Authenticator{providers: providers}
}

// Authenticate processes a token by delegating to the first matching provider.
// A provider returning ErrUnsupportedMechanism passes the token on to the next.
func (a *Authenticator) Authenticate(ctx context.Context, token []byte) (*Result, error) {
	for _, p := range a.providers {
		if !p.CanHandle(token) {
			continue
		}
		res, err := p.Authenticate(ctx, token)
		if errors.Is(err, ErrUnsupportedMechanism) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("%w: provider %s returned no result", ErrAuthFailed, p.Name())
		}
		if res.Provider == "" {
			res.Provider = p.Name()
		}
		return res, nil
	}
	return nil, ErrUnsupportedMechanism
}

// Providers returns a copy of the registered providers.
func (a *Authenticator) Providers() []Provider {
	if a == nil || len(a.providers) == 0 {
		return nil
	}
	out := make([]Provider, len(a.providers))
	copy(out, a.providers)
	return out
}

// Standard authentication errors.
var (
	// ErrAuthFailed indicates that authentication was attempted but failed
	// (expired ticket, invalid signature, untrusted certificate).
	ErrAuthFailed = errors.New("auth: authentication failed")

	// ErrUnsupportedMechanism indicates that no registered Provider can
	// handle the presented token.
	ErrUnsupportedMechanism = errors.New("auth: unsupported authentication mechanism")

	// ErrInvalidCredentials indicates that the credentials are malformed or
	// cannot be parsed (distinct from wrong credentials).
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrNoCredential indicates that the initiator has no credential to present.
	ErrNoCredential = errors.New("auth: no credential available")
)

// HandshakeError reports a failed handshake. The connection that produced it
// carries no verified identity and must be closed without a response.
type HandshakeError struct {
	Mechanism string
	Reason    string
	Err       error
}

func (e *HandshakeError) Error() string {
	msg := "handshake failed"
	if e.Mechanism != "" {
		msg = e.Mechanism + " " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// IsHandshakeError reports whether err (or anything it wraps) is a HandshakeError.
func IsHandshakeError(err error) bool {
	var he *HandshakeError
	return errors.As(err, &he)
}
