package kerberos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/config"
)

// Initiator is the client side of the Kerberos mechanism: it obtains a
// service ticket and presents it in a SPNEGO NegTokenInit.
type Initiator struct {
	client *client.Client
	spn    string

	// login is set for keytab clients, which must obtain a TGT first.
	login     bool
	loginOnce sync.Once
	loginErr  error

	// ticket obtains the service ticket; replaced in tests.
	ticket func(spn string) (messages.Ticket, types.EncryptionKey, error)
}

// NewInitiator builds an initiator for the service on host.
//
// With a keytab configured it logs in as cfg.Principal; otherwise it uses
// the credential cache at cfg.CCachePath, $KRB5CCNAME or /tmp/krb5cc_<uid>.
func NewInitiator(cfg config.ClientKerberosConfig, host string) (*Initiator, error) {
	krbConf, err := krb5config.Load(resolveKrb5ConfPath(cfg.Krb5Conf))
	if err != nil {
		return nil, fmt.Errorf("load krb5.conf: %w", err)
	}

	var cl *client.Client
	login := false
	if cfg.KeytabPath != "" {
		kt, err := loadKeytab(cfg.KeytabPath)
		if err != nil {
			return nil, fmt.Errorf("load keytab %s: %w", cfg.KeytabPath, err)
		}
		user, realm, err := splitPrincipal(cfg.Principal, krbConf.LibDefaults.DefaultRealm)
		if err != nil {
			return nil, err
		}
		cl = client.NewWithKeytab(user, realm, kt, krbConf, client.DisablePAFXFAST(true))
		login = true
	} else {
		path := resolveCCachePath(cfg.CCachePath)
		cc, err := credentials.LoadCCache(path)
		if err != nil {
			return nil, fmt.Errorf("load credential cache %s: %w", path, err)
		}
		cl, err = client.NewFromCCache(cc, krbConf, client.DisablePAFXFAST(true))
		if err != nil {
			return nil, fmt.Errorf("client from credential cache %s: %w", path, err)
		}
	}

	return newInitiator(cl, cfg.ResolveSPN(host), login), nil
}

func newInitiator(cl *client.Client, spn string, login bool) *Initiator {
	return &Initiator{
		client: cl,
		spn:    spn,
		login:  login,
		ticket: cl.GetServiceTicket,
	}
}

var _ auth.TokenSource = (*Initiator)(nil)

func (i *Initiator) Mechanism() string {
	return MechanismName
}

// SPN returns the service principal tickets are requested for.
func (i *Initiator) SPN() string {
	return i.spn
}

// InitialToken returns a GSS-wrapped SPNEGO NegTokenInit carrying an AP-REQ
// for the service.
func (i *Initiator) InitialToken(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i.login {
		i.loginOnce.Do(func() { i.loginErr = i.client.Login() })
		if i.loginErr != nil {
			return nil, fmt.Errorf("%w: kerberos login: %v", auth.ErrNoCredential, i.loginErr)
		}
	}

	tkt, key, err := i.ticket(i.spn)
	if err != nil {
		return nil, fmt.Errorf("get service ticket for %s: %w", i.spn, err)
	}
	logger.Debug("Obtained service ticket", logger.KeySPN, i.spn)

	negInit, err := spnego.NewNegTokenInitKRB5(i.client, tkt, key)
	if err != nil {
		return nil, fmt.Errorf("build NegTokenInit: %w", err)
	}
	st := spnego.SPNEGOToken{Init: true, NegTokenInit: negInit}
	return st.Marshal()
}

// VerifyReply checks that the acceptor completed the negotiation.
func (i *Initiator) VerifyReply(token []byte) error {
	if len(token) == 0 {
		return errors.New("empty SPNEGO reply")
	}
	isInit, nt, err := spnego.UnmarshalNegToken(token)
	if err != nil {
		return fmt.Errorf("unmarshal SPNEGO reply: %w", err)
	}
	resp, ok := nt.(spnego.NegTokenResp)
	if isInit || !ok {
		return errors.New("SPNEGO reply is not a NegTokenResp")
	}
	if resp.NegState != 0 {
		return fmt.Errorf("SPNEGO negotiation state %d", resp.NegState)
	}
	return nil
}

// Close destroys the client's credentials.
func (i *Initiator) Close() {
	i.client.Destroy()
}

// splitPrincipal splits "alice@EXAMPLE.COM"; a principal without a realm
// takes defaultRealm.
func splitPrincipal(principal, defaultRealm string) (user, realm string, err error) {
	if principal == "" {
		return "", "", errors.New("kerberos principal is required with a keytab")
	}
	user, realm = principal, defaultRealm
	if at := strings.LastIndex(principal, "@"); at >= 0 {
		user, realm = principal[:at], principal[at+1:]
	}
	if user == "" || realm == "" {
		return "", "", fmt.Errorf("kerberos principal %q has no realm and krb5.conf sets no default_realm", principal)
	}
	return user, realm, nil
}

// resolveCCachePath resolves the credential cache path.
//
// Resolution order (highest priority first):
//  1. configPath from configuration file
//  2. KRB5CCNAME env var (FILE: prefix stripped)
//  3. Default: /tmp/krb5cc_<uid>
func resolveCCachePath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("KRB5CCNAME"); env != "" {
		return strings.TrimPrefix(env, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}
