package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientEnvPrefix prefixes environment overrides of the client settings,
// e.g. GRIDAUTH_CLIENT_KERBEROS_KEYTAB_PATH.
const ClientEnvPrefix = "GRIDAUTH_CLIENT"

// ClientConfig holds the client settings that do not come from the fixed
// command line (-h, -p, -u, -f): which credential to present and how.
type ClientConfig struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Mechanism is kerberos or x509 and must match the service.
	// Default: kerberos
	Mechanism string `mapstructure:"mechanism" validate:"required,oneof=kerberos x509" yaml:"mechanism"`

	// Timeout bounds the whole exchange.
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`

	Kerberos ClientKerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`
	X509     ClientX509Config     `mapstructure:"x509" yaml:"x509"`
}

// ClientKerberosConfig selects the Kerberos credential of the client.
//
// With KeytabPath set the client logs in from the keytab as Principal;
// otherwise it uses the credential cache at CCachePath, or the one named
// by KRB5CCNAME.
type ClientKerberosConfig struct {
	Principal  string `mapstructure:"principal" yaml:"principal"`
	KeytabPath string `mapstructure:"keytab_path" yaml:"keytab_path"`
	CCachePath string `mapstructure:"ccache_path" yaml:"ccache_path"`

	// Krb5Conf is the path to the Kerberos configuration file.
	// Default: /etc/krb5.conf
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf"`

	// SPN is the service principal to request a ticket for. The literal
	// "{host}" is replaced by the -h argument.
	// Default: host/{host}
	SPN string `mapstructure:"spn" yaml:"spn"`
}

// ClientX509Config holds the client certificate and the trust anchors used
// to verify the service.
type ClientX509Config struct {
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
	CAFile   string `mapstructure:"ca_file" yaml:"ca_file"`

	// ServerName overrides the name checked against the service
	// certificate. Default: the -h argument.
	ServerName string `mapstructure:"server_name" yaml:"server_name"`
}

// ResolveSPN returns the service principal for host.
func (c ClientKerberosConfig) ResolveSPN(host string) string {
	return strings.ReplaceAll(c.SPN, "{host}", host)
}

// ApplyClientDefaults fills zero values of cfg.
func ApplyClientDefaults(cfg *ClientConfig) {
	// stdout belongs to the exchange outcome.
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "WARN"
	}
	applyLoggingDefaults(&cfg.Logging)
	if cfg.Mechanism == "" {
		cfg.Mechanism = MechanismKerberos
	}
	cfg.Mechanism = strings.ToLower(cfg.Mechanism)
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Kerberos.Krb5Conf == "" {
		cfg.Kerberos.Krb5Conf = "/etc/krb5.conf"
	}
	if cfg.Kerberos.SPN == "" {
		cfg.Kerberos.SPN = "host/{host}"
	}
}

// GetDefaultClientConfig returns a ClientConfig with all defaults applied.
func GetDefaultClientConfig() *ClientConfig {
	cfg := &ClientConfig{}
	ApplyClientDefaults(cfg)
	return cfg
}

// ValidateClient checks cfg without modifying it.
func ValidateClient(cfg *ClientConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.Mechanism == MechanismX509 && (cfg.X509.CertFile == "" || cfg.X509.KeyFile == "") {
		return fmt.Errorf("x509.cert_file and x509.key_file are required for mechanism x509")
	}
	return nil
}

// GetDefaultClientConfigPath returns the default client configuration path.
func GetDefaultClientConfigPath() string {
	return filepath.Join(GetConfigDir(), "client.yaml")
}

// LoadClient loads the client settings from defaults, the file at path (or
// the default location when empty) and GRIDAUTH_CLIENT_* variables.
func LoadClient(path string) (*ClientConfig, error) {
	cfg, err := LoadClientUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateClient(cfg); err != nil {
		return nil, fmt.Errorf("client configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadClientUnvalidated is LoadClient without validation, so that callers
// can overlay CLI flags before calling ValidateClient.
func LoadClientUnvalidated(path string) (*ClientConfig, error) {
	v := newViper()
	if err := setupViper(v, ClientEnvPrefix, GetDefaultClientConfig()); err != nil {
		return nil, err
	}
	if err := mergeConfigFile(v, path, GetDefaultClientConfigPath()); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client config: %w", err)
	}
	ApplyClientDefaults(&cfg)
	return &cfg, nil
}
