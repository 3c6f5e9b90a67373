// Package kerberos implements the Kerberos/SPNEGO mechanism of the
// authentication service on top of gokrb5.
//
// The acceptor side is Provider, an auth.Provider that verifies AP-REQ
// tokens (bare or wrapped in a SPNEGO NegTokenInit) against the service
// keytab and resolves the client principal to local principal names. The
// initiator side is Initiator, an auth.TokenSource that obtains a service
// ticket and builds the matching NegTokenInit.
//
// The keytab is reloaded from disk when it changes (see KeytabManager), so
// key rotation does not need a restart.
//
// Environment variables take precedence over the configuration file:
//
//	GRIDAUTH_KERBEROS_KEYTAB    (or GRIDAUTH_KERBEROS_KEYTAB_PATH)
//	GRIDAUTH_KERBEROS_PRINCIPAL (or GRIDAUTH_KERBEROS_SERVICE_PRINCIPAL)
//	GRIDAUTH_KERBEROS_KRB5CONF
//
// References:
//   - RFC 4120: The Kerberos Network Authentication Service (V5)
//   - RFC 4121: The Kerberos Version 5 GSS-API Mechanism
//   - RFC 4178: SPNEGO
package kerberos
