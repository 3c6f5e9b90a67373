// Package commands implements the authclient command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/auth/kerberos"
	"github.com/marmos91/gridauth/pkg/auth/x509"
	"github.com/marmos91/gridauth/pkg/client"
	"github.com/marmos91/gridauth/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	flags clientFlags

	// exitCode is set by runClient; parse errors leave it at 1.
	exitCode = client.ExitLocalFailure
)

type clientFlags struct {
	host      string
	port      int
	userFile  string
	proxyFile string

	config      string
	mechanism   string
	spn         string
	principal   string
	keytab      string
	ccache      string
	krb5Conf    string
	cert        string
	key         string
	ca          string
	logLevel    string
	showVersion bool
}

var rootCmd = &cobra.Command{
	Use:   "authclient -h <host> -p <port> -u <user-file> [-f <proxy-file>]",
	Short: "Ask the gridauth service which local identity this credential maps to",
	Long: `authclient authenticates to an authservice instance and appends the local
identity it is given to the user file.

The process exits 0 after writing the identity. When the service reports a
failure its status code becomes the exit code and the user file is left
untouched; any local failure exits 1.

The -f proxy file is accepted for compatibility and not used.

Examples:
  # Kerberos, using the default credential cache
  authclient -h auth.example.com -p 7512 -u /tmp/user

  # Mutual TLS with a grid certificate
  authclient -h auth.example.com -p 7512 -u /tmp/user \
    --mechanism x509 --cert ~/.globus/usercert.pem --key ~/.globus/userkey.pem \
    --ca /etc/grid-security/certificates/ca.pem`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

func init() {
	f := rootCmd.Flags()
	// -h is the host; help stays available as --help.
	f.StringVarP(&flags.host, "host", "h", "", "service host name (required)")
	f.IntVarP(&flags.port, "port", "p", 0, "service port (required)")
	f.StringVarP(&flags.userFile, "user-file", "u", "", "file the local identity is appended to (required)")
	f.StringVarP(&flags.proxyFile, "proxy-file", "f", "", "proxy credential file (accepted, unused)")
	_ = rootCmd.MarkFlagRequired("host")
	_ = rootCmd.MarkFlagRequired("port")
	_ = rootCmd.MarkFlagRequired("user-file")

	f.StringVar(&flags.config, "config", "", "client config file (default: $XDG_CONFIG_HOME/gridauth/client.yaml)")
	f.StringVar(&flags.mechanism, "mechanism", "", "authentication mechanism (kerberos, x509)")
	f.StringVar(&flags.spn, "spn", "", `service principal; "{host}" expands to -h (default: host/{host})`)
	f.StringVar(&flags.principal, "principal", "", "client principal for keytab login")
	f.StringVar(&flags.keytab, "keytab", "", "client keytab")
	f.StringVar(&flags.ccache, "ccache", "", "Kerberos credential cache (default: $KRB5CCNAME)")
	f.StringVar(&flags.krb5Conf, "krb5-conf", "", "Kerberos configuration file")
	f.StringVar(&flags.cert, "cert", "", "client certificate (PEM)")
	f.StringVar(&flags.key, "key", "", "client private key (PEM)")
	f.StringVar(&flags.ca, "ca", "", "CA bundle used to verify the service (PEM)")
	f.StringVar(&flags.logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	f.BoolVar(&flags.showVersion, "version", false, "print the version and exit")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// Execute runs the client with args and returns the process exit code
// together with the error behind a nonzero code.
func Execute(args []string) (int, error) {
	exitCode = client.ExitLocalFailure
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return exitCode, err
	}
	return 0, nil
}

// ShouldReport reports whether err deserves a message on stderr. Failures
// reported by the service have already been printed.
func ShouldReport(err error) bool {
	var se *client.ServerError
	return !errors.As(err, &se)
}

// applyClientFlags overlays the flags the user set on cfg.
func applyClientFlags(cmd *cobra.Command, cfg *config.ClientConfig) {
	set := func(name string, dst *string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = v
		}
	}
	set("mechanism", &cfg.Mechanism, strings.ToLower(flags.mechanism))
	set("spn", &cfg.Kerberos.SPN, flags.spn)
	set("principal", &cfg.Kerberos.Principal, flags.principal)
	set("keytab", &cfg.Kerberos.KeytabPath, flags.keytab)
	set("ccache", &cfg.Kerberos.CCachePath, flags.ccache)
	set("krb5-conf", &cfg.Kerberos.Krb5Conf, flags.krb5Conf)
	set("cert", &cfg.X509.CertFile, flags.cert)
	set("key", &cfg.X509.KeyFile, flags.key)
	set("ca", &cfg.X509.CAFile, flags.ca)
	set("log-level", &cfg.Logging.Level, strings.ToUpper(flags.logLevel))
}

func runClient(cmd *cobra.Command, _ []string) error {
	if flags.showVersion {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "authclient %s (%s, %s)\n", Version, Commit, Date)
		exitCode = 0
		return nil
	}

	cfg, err := config.LoadClientUnvalidated(flags.config)
	if err != nil {
		return err
	}
	applyClientFlags(cmd, cfg)
	if err := config.ValidateClient(cfg); err != nil {
		return fmt.Errorf("client configuration validation failed: %w", err)
	}

	sink, err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to open log output: %w", err)
	}
	defer func() { _ = sink.Close() }()

	dialer, closeDialer, err := newDialer(cfg, flags.host)
	if err != nil {
		return err
	}
	defer closeDialer()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()

	runner := &client.Runner{
		Config: client.Config{
			Host:      flags.host,
			Port:      flags.port,
			UserFile:  flags.userFile,
			ProxyFile: flags.proxyFile,
		},
		Dialer: dialer,
		Out:    cmd.OutOrStdout(),
	}

	code, err := runner.Run(ctx)
	exitCode = code
	return err
}

// newDialer builds the dialer for the configured mechanism. The returned
// function releases its credentials.
func newDialer(cfg *config.ClientConfig, host string) (auth.Dialer, func(), error) {
	switch cfg.Mechanism {
	case config.MechanismKerberos:
		initiator, err := kerberos.NewInitiator(cfg.Kerberos, host)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("Using Kerberos credentials", logger.KeySPN, initiator.SPN())
		return &auth.TokenDialer{Source: initiator, Timeout: cfg.Timeout}, initiator.Close, nil

	case config.MechanismX509:
		d, err := x509.NewDialer(cfg.X509, host)
		if err != nil {
			return nil, nil, err
		}
		d.Timeout = cfg.Timeout
		return d, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported authentication mechanism %q", cfg.Mechanism)
	}
}
