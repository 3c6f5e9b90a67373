package x509

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	stdx509 "crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/auth/gridmap"
	"github.com/marmos91/gridauth/pkg/client"
	"github.com/marmos91/gridauth/pkg/config"
	"github.com/marmos91/gridauth/pkg/server"
	"github.com/marmos91/gridauth/pkg/session"
)

const aliceDN = "/DC=org/DC=example/O=Example/CN=Alice Smith"

var (
	oidDC = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	oidO  = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidCN = asn1.ObjectIdentifier{2, 5, 4, 3}
)

type testCA struct {
	cert *stdx509.Certificate
	key  *ecdsa.PrivateKey
	pem  []byte
}

func newTestCA(t *testing.T, cn string) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &stdx509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              stdx509.KeyUsageCertSign,
	}
	der, err := stdx509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := stdx509.ParseCertificate(der)
	require.NoError(t, err)
	return &testCA{cert: cert, key: key, pem: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})}
}

// issue signs a leaf certificate and writes the PEM pair to dir.
func (ca *testCA) issue(t *testing.T, dir, name string, subject pkix.RDNSequence, server bool) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	rawSubject, err := asn1.Marshal(subject)
	require.NoError(t, err)
	tmpl := &stdx509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		RawSubject:   rawSubject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     stdx509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []stdx509.ExtKeyUsage{stdx509.ExtKeyUsageClientAuth},
	}
	if server {
		tmpl.ExtKeyUsage = []stdx509.ExtKeyUsage{stdx509.ExtKeyUsageServerAuth}
		tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
	}
	der, err := stdx509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	keyDER, err := stdx509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, name+".pem")
	keyFile = filepath.Join(dir, name+".key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}

func (ca *testCA) write(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ca-"+ca.cert.Subject.CommonName+".pem")
	require.NoError(t, os.WriteFile(path, ca.pem, 0600))
	return path
}

func rdn(oid asn1.ObjectIdentifier, value string) pkix.RelativeDistinguishedNameSET {
	return pkix.RelativeDistinguishedNameSET{{Type: oid, Value: value}}
}

func aliceSubject() pkix.RDNSequence {
	return pkix.RDNSequence{
		rdn(oidDC, "org"), rdn(oidDC, "example"), rdn(oidO, "Example"), rdn(oidCN, "Alice Smith"),
	}
}

type pki struct {
	serverCfg config.X509Config
	clientCfg config.ClientX509Config
}

func newPKI(t *testing.T) (*pki, *testCA) {
	t.Helper()
	dir := t.TempDir()
	ca := newTestCA(t, "Test CA")
	caFile := ca.write(t, dir)

	srvCert, srvKey := ca.issue(t, dir, "server", pkix.RDNSequence{rdn(oidCN, "auth.test")}, true)
	cliCert, cliKey := ca.issue(t, dir, "alice", aliceSubject(), false)

	return &pki{
		serverCfg: config.X509Config{CertFile: srvCert, KeyFile: srvKey, CAFile: caFile},
		clientCfg: config.ClientX509Config{CertFile: cliCert, KeyFile: cliKey, CAFile: caFile},
	}, ca
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, aliceDN, OneLine(aliceSubject()))

	unknown := pkix.RDNSequence{rdn(asn1.ObjectIdentifier{1, 2, 3}, "x")}
	assert.Equal(t, "/1.2.3=x", OneLine(unknown))
	assert.Equal(t, "", OneLine(nil))
}

func TestOneLineRawFallsBack(t *testing.T) {
	name := pkix.Name{CommonName: "Bob"}
	assert.Equal(t, "/CN=Bob", oneLineRaw([]byte("garbage"), name))
}

func handshake(t *testing.T, a *Acceptor, d *Dialer) (auth.Conn, error, error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type accepted struct {
		conn auth.Conn
		err  error
	}
	done := make(chan accepted, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			done <- accepted{err: err}
			return
		}
		c, err := a.Accept(ctx, raw)
		if err != nil {
			_ = raw.Close()
		}
		done <- accepted{conn: c, err: err}
	}()

	cc, dialErr := d.DialContext(ctx, ln.Addr().String())
	if dialErr == nil {
		// TLS 1.3 reports client certificate rejection on first read.
		_ = cc.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, _ = cc.Read(make([]byte, 1))
		t.Cleanup(func() { _ = cc.Close() })
	}
	res := <-done
	if res.conn != nil {
		t.Cleanup(func() { _ = res.conn.Close() })
	}
	return res.conn, res.err, dialErr
}

func TestMutualTLSHandshake(t *testing.T) {
	p, _ := newPKI(t)
	a, err := NewAcceptor(p.serverCfg)
	require.NoError(t, err)
	d, err := NewDialer(p.clientCfg, "127.0.0.1")
	require.NoError(t, err)

	conn, acceptErr, dialErr := handshake(t, a, d)
	require.NoError(t, dialErr)
	require.NoError(t, acceptErr)

	peer := conn.Peer()
	require.NotNil(t, peer)
	assert.Equal(t, "x509", peer.Mechanism)
	assert.Equal(t, aliceDN, peer.Subject)
	assert.Equal(t, "/CN=Test CA", peer.Attributes[AttrIssuer])
	assert.Contains(t, peer.Attributes[AttrRFC2253], "CN=Alice Smith")
	assert.Empty(t, peer.Principals)
}

func TestUntrustedClientRejected(t *testing.T) {
	p, _ := newPKI(t)
	a, err := NewAcceptor(p.serverCfg)
	require.NoError(t, err)

	// A client certificate from a CA the service does not trust.
	dir := t.TempDir()
	rogue := newTestCA(t, "Rogue CA")
	cert, key := rogue.issue(t, dir, "mallory", pkix.RDNSequence{rdn(oidCN, "Mallory")}, false)
	d, err := NewDialer(config.ClientX509Config{CertFile: cert, KeyFile: key, CAFile: p.clientCfg.CAFile}, "127.0.0.1")
	require.NoError(t, err)

	_, acceptErr, _ := handshake(t, a, d)
	require.Error(t, acceptErr)
	assert.True(t, auth.IsHandshakeError(acceptErr))
	assert.ErrorIs(t, acceptErr, auth.ErrAuthFailed)
}

func TestClientWithoutCertificateRejected(t *testing.T) {
	p, ca := newPKI(t)
	a, err := NewAcceptor(p.serverCfg)
	require.NoError(t, err)

	pool := stdx509.NewCertPool()
	pool.AddCert(ca.cert)
	d := NewDialerWithTLS(&tls.Config{RootCAs: pool, ServerName: "127.0.0.1", MinVersion: tls.VersionTLS12})

	_, acceptErr, _ := handshake(t, a, d)
	assert.Error(t, acceptErr)
}

func TestNewAcceptorErrors(t *testing.T) {
	p, _ := newPKI(t)

	bad := p.serverCfg
	bad.CertFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err := NewAcceptor(bad)
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(empty, []byte("no certificates here"), 0600))
	bad = p.serverCfg
	bad.CAFile = empty
	_, err = NewAcceptor(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PEM certificates")
}

func TestMutualTLSEndToEnd(t *testing.T) {
	p, _ := newPKI(t)
	a, err := NewAcceptor(p.serverCfg)
	require.NoError(t, err)
	a.Timeout = 5 * time.Second

	entries, err := gridmap.Parse(bytes.NewBufferString(`"` + aliceDN + `" grid01,alice` + "\n"))
	require.NoError(t, err)
	mapper := auth.ResolvingMapper{Source: gridmap.New(entries)}

	srv := server.New(server.Config{BindAddress: "127.0.0.1"},
		session.NewHandler(a, session.WithMapper(mapper)), nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	d, err := NewDialer(p.clientCfg, "127.0.0.1")
	require.NoError(t, err)

	userFile := filepath.Join(t.TempDir(), "user")
	r := &client.Runner{
		Config: client.Config{Host: "127.0.0.1", Port: srv.Addr().(*net.TCPAddr).Port, UserFile: userFile},
		Dialer: d,
		Out:    &bytes.Buffer{},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(userFile)
	require.NoError(t, err)
	assert.Equal(t, "alice", string(data))
}
