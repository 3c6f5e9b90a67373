package auth

import (
	"net"
	"slices"
)

// Peer is the verified identity of the remote end of an authenticated
// connection.
type Peer struct {
	// Mechanism names the mechanism that verified the credential.
	Mechanism string

	// Subject is the authenticated credential name, e.g. "alice@EXAMPLE.COM"
	// or an X.509 distinguished name.
	Subject string

	// Principals is the set of local principal names bound to the credential.
	// It has no meaningful order and may be empty.
	Principals []string

	// Attributes holds mechanism-specific metadata (realm, issuer, ...).
	Attributes map[string]string
}

// Anonymous reports whether no local principal is bound to the peer.
func (p *Peer) Anonymous() bool {
	return p == nil || len(p.Principals) == 0
}

// Clone returns a deep copy of the peer.
func (p *Peer) Clone() *Peer {
	if p == nil {
		return nil
	}
	c := *p
	c.Principals = slices.Clone(p.Principals)
	if p.Attributes != nil {
		c.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// Conn is a connection whose handshake has completed. Peer returns nil for a
// connection that completed without authenticating the remote end.
type Conn interface {
	net.Conn
	Peer() *Peer
}

type conn struct {
	net.Conn
	peer *Peer
}

// NewConn attaches a verified peer to c.
func NewConn(c net.Conn, peer *Peer) Conn {
	return &conn{Conn: c, peer: peer}
}

func (c *conn) Peer() *Peer {
	return c.peer
}

// LocalIdentity is an optional local username.
type LocalIdentity struct {
	name string
	ok   bool
}

// Some returns a present identity.
func Some(name string) LocalIdentity {
	return LocalIdentity{name: name, ok: true}
}

// None returns an absent identity.
func None() LocalIdentity {
	return LocalIdentity{}
}

// Get returns the identity and whether it is present.
func (l LocalIdentity) Get() (string, bool) {
	return l.name, l.ok
}

// Present reports whether the identity is set.
func (l LocalIdentity) Present() bool {
	return l.ok
}

// String returns the identity, or "-" when absent.
func (l LocalIdentity) String() string {
	if !l.ok {
		return "-"
	}
	return l.name
}
