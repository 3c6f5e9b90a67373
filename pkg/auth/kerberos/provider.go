package kerberos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/config"
)

// MechanismName is the name reported in auth.Peer.Mechanism.
const MechanismName = "kerberos"

// Peer attribute keys.
const (
	AttrRealm     = "realm"
	AttrPrincipal = "principal"
)

// Well-known mechanism OIDs.
var (
	// OIDKerberosV5 is the standard Kerberos 5 OID (1.2.840.113554.1.2.2).
	OIDKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}

	// OIDMSKerberosV5 is Microsoft's Kerberos 5 OID (1.2.840.48018.1.2.2).
	OIDMSKerberosV5 = asn1.ObjectIdentifier{1, 2, 840, 48018, 1, 2, 2}
)

// Provider verifies Kerberos AP-REQ tokens with the service keytab.
//
// Provider implements auth.Provider, so it can be chained in an
// auth.Authenticator and carried by auth.TokenAcceptor.
//
// Thread safety: all methods are safe for concurrent use. The keytab can be
// hot-reloaded with ReloadKeytab without disrupting handshakes in progress.
type Provider struct {
	keytab           *keytab.Keytab
	krb5Conf         *krb5config.Config
	servicePrincipal string
	maxClockSkew     time.Duration
	keytabPath       string
	keytabManager    *KeytabManager
	mu               sync.RWMutex
}

// NewProvider creates a provider from configuration. It loads the keytab
// and, when present, krb5.conf, then starts a KeytabManager polling the
// keytab for changes every 60 seconds.
//
// The provider only verifies credentials: the verified principal is
// reported as the peer subject, and binding it to local names is left to the
// identity mapper (see StaticMapper and RealmStripper).
func NewProvider(cfg *config.KerberosConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kerberos config is nil")
	}

	keytabPath := resolveKeytabPath(cfg.KeytabPath)
	if keytabPath == "" {
		return nil, fmt.Errorf("kerberos keytab path not configured (set keytab_path or GRIDAUTH_KERBEROS_KEYTAB)")
	}

	kt, err := loadKeytab(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", keytabPath, err)
	}

	krb5ConfPath := resolveKrb5ConfPath(cfg.Krb5Conf)
	krbCfg, err := loadKrb5Conf(krb5ConfPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug("krb5.conf not found, realm defaults unavailable", logger.KeyPath, krb5ConfPath)
	case err != nil:
		return nil, fmt.Errorf("load krb5.conf %s: %w", krb5ConfPath, err)
	}

	p := &Provider{
		keytab:           kt,
		krb5Conf:         krbCfg,
		servicePrincipal: resolveServicePrincipal(cfg.ServicePrincipal),
		maxClockSkew:     cfg.MaxClockSkew,
		keytabPath:       keytabPath,
	}

	km := NewKeytabManager(keytabPath, p, keytabPollInterval)
	if err := km.Start(); err != nil {
		// Non-fatal: the keytab was loaded, only rotation is lost.
		logger.Warn("Keytab hot-reload failed to start, continuing without it",
			logger.KeyPath, keytabPath, logger.Err(err))
	}
	p.keytabManager = km

	logger.Info("Kerberos provider ready", logger.KeyPath, keytabPath,
		logger.KeySPN, p.servicePrincipal)
	return p, nil
}

// Keytab returns the current keytab (thread-safe read).
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// ServicePrincipal returns the configured service principal name, or ""
// when any principal in the keytab is accepted.
func (p *Provider) ServicePrincipal() string {
	return p.servicePrincipal
}

// MaxClockSkew returns the maximum allowed clock skew.
func (p *Provider) MaxClockSkew() time.Duration {
	return p.maxClockSkew
}

// Krb5Config returns the loaded Kerberos configuration, or nil.
func (p *Provider) Krb5Config() *krb5config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.krb5Conf
}

// ReloadKeytab re-reads the keytab file and atomically swaps it. On error
// the previous keytab stays active.
func (p *Provider) ReloadKeytab() error {
	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	p.keytab = kt
	p.mu.Unlock()

	return nil
}

// Close stops the KeytabManager's polling goroutine. Safe to call multiple times.
func (p *Provider) Close() error {
	if p.keytabManager != nil {
		p.keytabManager.Stop()
	}
	return nil
}

var _ auth.Provider = (*Provider)(nil)

// spnegoOID is the ASN.1 encoded OID for SPNEGO (1.3.6.1.5.5.2):
// OID tag (0x06), length (0x06), then the OID bytes.
var spnegoOID = []byte{0x06, 0x06, 0x2b, 0x06, 0x01, 0x05, 0x05, 0x02}

// CanHandle returns true if the token is a Kerberos/SPNEGO authentication token.
//
// Detection is based on ASN.1 structure:
//   - SPNEGO tokens start with ASN.1 Application tag 0x60 followed by the
//     SPNEGO OID (1.3.6.1.5.5.2)
//   - Raw Kerberos AP-REQ tokens start with ASN.1 Application tag [14] (0x6E)
//
// This is a fast check that does not perform full token parsing.
func (p *Provider) CanHandle(token []byte) bool {
	if len(token) < 2 {
		return false
	}

	if token[0] == 0x60 && bytes.Contains(token, spnegoOID) {
		return true
	}

	return token[0] == 0x6E
}

// Authenticate verifies the AP-REQ carried by token. The peer subject is
// the client principal, principal@REALM; the peer carries no principals.
//
// The reply is a SPNEGO accept-completed NegTokenResp. No AP-REP is sent:
// mutual authentication is not requested by the initiator.
func (p *Provider) Authenticate(_ context.Context, token []byte) (*auth.Result, error) {
	if !p.CanHandle(token) {
		return nil, auth.ErrUnsupportedMechanism
	}

	apReq, err := extractAPReq(token)
	if err != nil {
		logger.Debug("Failed to extract Kerberos AP-REQ", logger.Err(err))
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidCredentials, err)
	}

	opts := []func(*service.Settings){service.DecodePAC(false)}
	if p.maxClockSkew > 0 {
		opts = append(opts, service.MaxClockSkew(p.maxClockSkew))
	}
	if p.servicePrincipal != "" {
		opts = append(opts, service.KeytabPrincipal(p.servicePrincipal))
	}
	settings := service.NewSettings(p.Keytab(), opts...)

	ok, creds, err := service.VerifyAPREQ(apReq, settings)
	if err != nil || !ok {
		logger.Info("Kerberos AP-REQ verification failed", logger.Err(err), "ok", ok)
		if err == nil {
			err = errors.New("ticket rejected")
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrAuthFailed, err)
	}

	name := creds.CName().PrincipalNameString()
	realm := creds.Domain()
	subject := name + "@" + realm

	reply, err := acceptCompleted()
	if err != nil {
		return nil, fmt.Errorf("build SPNEGO reply: %w", err)
	}

	logger.Debug("Kerberos authentication succeeded", logger.KeySubject, subject)

	return &auth.Result{
		Peer: &auth.Peer{
			Mechanism: MechanismName,
			Subject:   subject,
			Attributes: map[string]string{
				AttrRealm:     realm,
				AttrPrincipal: name,
			},
		},
		Provider: p.Name(),
		Reply:    reply,
	}, nil
}

// Name returns the provider name for logging and diagnostics.
func (p *Provider) Name() string {
	return MechanismName
}

// extractAPReq decodes a bare AP-REQ or the KRB5 mech token of a SPNEGO
// NegTokenInit.
func extractAPReq(token []byte) (*messages.APReq, error) {
	if token[0] == 0x6E {
		var apReq messages.APReq
		if err := apReq.Unmarshal(token); err != nil {
			return nil, fmt.Errorf("unmarshal AP-REQ: %w", err)
		}
		return &apReq, nil
	}

	var st spnego.SPNEGOToken
	if err := st.Unmarshal(token); err != nil {
		return nil, fmt.Errorf("unmarshal SPNEGO token: %w", err)
	}
	if !st.Init {
		return nil, errors.New("SPNEGO token is not a NegTokenInit")
	}
	if !offersKerberos(st.NegTokenInit.MechTypes) {
		return nil, errors.New("NegTokenInit does not offer Kerberos")
	}

	var mt spnego.KRB5Token
	if err := mt.Unmarshal(st.NegTokenInit.MechTokenBytes); err != nil {
		return nil, fmt.Errorf("unmarshal KRB5 mech token: %w", err)
	}
	if !mt.IsAPReq() {
		return nil, errors.New("KRB5 mech token is not an AP-REQ")
	}
	return &mt.APReq, nil
}

func offersKerberos(mechs []asn1.ObjectIdentifier) bool {
	for _, m := range mechs {
		if m.Equal(OIDKerberosV5) || m.Equal(OIDMSKerberosV5) {
			return true
		}
	}
	return false
}

// acceptCompleted builds the SPNEGO accept-completed response.
func acceptCompleted() ([]byte, error) {
	resp := spnego.NegTokenResp{
		NegState:      asn1.Enumerated(0),
		SupportedMech: OIDKerberosV5,
	}
	return resp.Marshal()
}

// loadKeytab reads and parses a keytab file.
func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}

	return kt, nil
}

// loadKrb5Conf reads and parses a Kerberos configuration file. A missing
// file is reported as os.ErrNotExist.
func loadKrb5Conf(path string) (*krb5config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	cfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf: %w", err)
	}

	return cfg, nil
}
