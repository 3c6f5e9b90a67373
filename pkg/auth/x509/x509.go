// Package x509 implements mutual TLS authentication: the service requires a
// client certificate chaining to its trusted CAs and reports the certificate
// subject as the peer.
//
// Subjects use the OpenSSL one-line form found in grid-mapfiles, e.g.
// "/DC=org/DC=example/O=Example/CN=Alice Smith", so a gridmap.Map can bind
// them to local names directly.
package x509

import (
	"context"
	"crypto/tls"
	stdx509 "crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/config"
)

// MechanismName is the name reported in auth.Peer.Mechanism.
const MechanismName = "x509"

// Peer attribute keys.
const (
	AttrIssuer  = "issuer"
	AttrSerial  = "serial"
	AttrRFC2253 = "subject_rfc2253"
)

// Acceptor runs the server side of a mutual TLS handshake.
type Acceptor struct {
	tlsConfig *tls.Config

	// Timeout bounds the TLS handshake. Zero means no limit beyond ctx.
	Timeout time.Duration
}

// NewAcceptor loads the service key pair and the client CA bundle.
func NewAcceptor(cfg config.X509Config) (*Acceptor, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load service certificate: %w", err)
	}
	pool, err := loadCertPool(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	return NewAcceptorWithTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
	}), nil
}

// NewAcceptorWithTLS uses base as the server configuration, forcing client
// certificate verification.
func NewAcceptorWithTLS(base *tls.Config) *Acceptor {
	c := base.Clone()
	c.ClientAuth = tls.RequireAndVerifyClientCert
	if c.MinVersion == 0 {
		c.MinVersion = tls.VersionTLS12
	}
	return &Acceptor{tlsConfig: c}
}

var _ auth.Acceptor = (*Acceptor)(nil)

// Accept completes the TLS handshake on raw. The returned connection
// carries the peer, whose Subject is the client certificate subject.
func (a *Acceptor) Accept(ctx context.Context, raw net.Conn) (auth.Conn, error) {
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	tc := tls.Server(raw, a.tlsConfig)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, &auth.HandshakeError{Mechanism: MechanismName, Reason: "tls handshake",
			Err: fmt.Errorf("%w: %v", auth.ErrAuthFailed, err)}
	}

	state := tc.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, &auth.HandshakeError{Mechanism: MechanismName, Err: auth.ErrNoCredential}
	}
	leaf := state.PeerCertificates[0]

	peer := &auth.Peer{
		Mechanism: MechanismName,
		Subject:   oneLineRaw(leaf.RawSubject, leaf.Subject),
		Attributes: map[string]string{
			AttrIssuer:  oneLineRaw(leaf.RawIssuer, leaf.Issuer),
			AttrSerial:  leaf.SerialNumber.String(),
			AttrRFC2253: leaf.Subject.String(),
		},
	}
	logger.Debug("Client certificate verified", logger.KeySubject, peer.Subject,
		"issuer", peer.Attributes[AttrIssuer])
	return auth.NewConn(tc, peer), nil
}

// Dialer runs the client side of a mutual TLS handshake.
type Dialer struct {
	tlsConfig *tls.Config

	// Timeout bounds connection establishment and the handshake.
	Timeout time.Duration

	// NetDialer is used to open the TCP connection. Nil uses a zero net.Dialer.
	NetDialer *net.Dialer
}

// NewDialer loads the client key pair and the CA bundle used to verify the
// service. serverName is checked against the service certificate.
func NewDialer(cfg config.ClientX509Config, serverName string) (*Dialer, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}
	return NewDialerWithTLS(tlsCfg), nil
}

// NewDialerWithTLS uses c as the client configuration.
func NewDialerWithTLS(c *tls.Config) *Dialer {
	return &Dialer{tlsConfig: c.Clone()}
}

var _ auth.Dialer = (*Dialer)(nil)

func (d *Dialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	nd := d.NetDialer
	if nd == nil {
		nd = &net.Dialer{}
	}
	raw, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	tc := tls.Client(raw, d.tlsConfig)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, &auth.HandshakeError{Mechanism: MechanismName, Reason: "tls handshake", Err: err}
	}
	return tc, nil
}

func loadCertPool(path string) (*stdx509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := stdx509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("CA bundle contains no PEM certificates")
	}
	return pool, nil
}

// shortNames maps attribute OIDs to the names OpenSSL prints.
var shortNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.5":                    "serialNumber",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.9":                    "street",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"0.9.2342.19200300.100.1.1":  "UID",
	"0.9.2342.19200300.100.1.25": "DC",
	"1.2.840.113549.1.9.1":       "emailAddress",
}

// OneLine formats a distinguished name the way "openssl x509 -subject"
// does in compat mode: one "/type=value" element per attribute, in
// certificate order.
func OneLine(seq pkix.RDNSequence) string {
	var b strings.Builder
	for _, rdn := range seq {
		for _, atv := range rdn {
			b.WriteByte('/')
			b.WriteString(attrName(atv.Type))
			b.WriteByte('=')
			fmt.Fprint(&b, atv.Value)
		}
	}
	return b.String()
}

func attrName(oid asn1.ObjectIdentifier) string {
	if n, ok := shortNames[oid.String()]; ok {
		return n
	}
	return oid.String()
}

// oneLineRaw formats the DER-encoded name raw. pkix.Name drops attribute
// order and some types (DC, UID), so the raw encoding is preferred; name is
// the fallback when raw cannot be decoded.
func oneLineRaw(raw []byte, name pkix.Name) string {
	var seq pkix.RDNSequence
	if rest, err := asn1.Unmarshal(raw, &seq); err == nil && len(rest) == 0 {
		return OneLine(seq)
	}
	return OneLine(name.ToRDNSequence())
}
