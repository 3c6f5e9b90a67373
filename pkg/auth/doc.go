// Package auth provides the authenticated-transport abstractions used by the
// authentication service and its client.
//
// The session core never performs credential verification itself. It consumes
// two narrow capabilities defined here:
//
//   - Acceptor: given a raw server-side connection, run a handshake and return
//     either a Conn carrying the verified Peer or a handshake error
//   - Dialer: open a client-side connection and complete the same handshake
//
// Token-based mechanisms (Kerberos/SPNEGO) plug in as Providers chained by an
// Authenticator and are carried over the framed handshake implemented by
// TokenAcceptor and TokenDialer. Connection-level mechanisms such as mutual
// TLS implement Acceptor and Dialer directly.
//
// Once a Peer is known, an IdentityMapper selects the single local identity
// reported back to the client. FirstPrincipalMapper is the default.
//
// Sub-packages:
//   - kerberos/: Kerberos/SPNEGO provider and initiator with keytab management
//   - gridmap/: grid-mapfile parser used to bind credentials to local names
//   - x509/: mutual TLS acceptor and dialer
package auth
