package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/gridauth/pkg/api"
	"github.com/marmos91/gridauth/pkg/store"
)

// EnvPrefix prefixes every environment variable override,
// e.g. GRIDAUTH_LOGGING_LEVEL=DEBUG.
const EnvPrefix = "GRIDAUTH"

// Config is the authentication service configuration.
//
// Sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (GRIDAUTH_*)
//  3. Configuration file (YAML)
//  4. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Server configures the authentication listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// ShutdownTimeout bounds the drain of in-flight sessions on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Auth selects and configures the credential mechanism
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Database configures the session audit trail and stored identity mappings
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics enables Prometheus metrics, served by the API under /metrics
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the read-only HTTP API
	API api.APIConfig `mapstructure:"api" yaml:"api"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file
	// path opened in append mode
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes lists the profiles to collect
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// ServerConfig configures the authentication listener.
type ServerConfig struct {
	// BindAddress is the IP address to bind to. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address"`

	// Port is the TCP port to listen on. It has no default: it must come
	// from -p, GRIDAUTH_SERVER_PORT or the configuration file.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// MaxConnections caps concurrent sessions; accepting pauses at the cap.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`

	// HandshakeTimeout bounds the credential handshake of one session.
	// Default: 30s
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gte=0" yaml:"handshake_timeout"`

	// MetricsLogInterval is the period of the active-connections log line.
	// 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"gte=0" yaml:"metrics_log_interval"`
}

// Mechanism names.
const (
	MechanismKerberos = "kerberos"
	MechanismX509     = "x509"
)

// AuthConfig selects the credential mechanism and the principal sources.
//
// The principal set of an authenticated subject is the union of the
// Kerberos static map (kerberos only), the grid-mapfile and, when the
// database is enabled, the stored identity mappings.
type AuthConfig struct {
	// Mechanism is kerberos or x509.
	// Default: kerberos
	Mechanism string `mapstructure:"mechanism" validate:"required,oneof=kerberos x509" yaml:"mechanism"`

	// GridMapFile is an optional grid-mapfile path.
	GridMapFile string `mapstructure:"gridmap_file" yaml:"gridmap_file,omitempty"`

	// GridMapReloadInterval is how often the grid-mapfile is checked for
	// changes. 0 disables reloading.
	// Default: 60s
	GridMapReloadInterval time.Duration `mapstructure:"gridmap_reload_interval" validate:"gte=0" yaml:"gridmap_reload_interval"`

	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`
	X509     X509Config     `mapstructure:"x509" yaml:"x509"`
}

// KerberosConfig configures the Kerberos acceptor.
//
// Environment variable overrides:
//
//	GRIDAUTH_KERBEROS_KEYTAB overrides KeytabPath
//	GRIDAUTH_KERBEROS_PRINCIPAL overrides ServicePrincipal
//	GRIDAUTH_KERBEROS_KRB5CONF overrides Krb5Conf
type KerberosConfig struct {
	// KeytabPath is the path to the keytab holding the service key.
	KeytabPath string `mapstructure:"keytab_path" yaml:"keytab_path"`

	// ServicePrincipal is the service principal name, e.g.
	// host/auth.example.com@EXAMPLE.COM. Empty accepts any principal in
	// the keytab.
	ServicePrincipal string `mapstructure:"service_principal" yaml:"service_principal"`

	// Krb5Conf is the path to the Kerberos configuration file.
	// Default: /etc/krb5.conf
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf"`

	// MaxClockSkew is the tolerated clock difference with clients.
	// Default: 5m
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" validate:"gte=0" yaml:"max_clock_skew"`

	// IdentityMapping configures the principal-to-account table.
	IdentityMapping IdentityMappingConfig `mapstructure:"identity_mapping" yaml:"identity_mapping"`
}

// IdentityMappingConfig maps Kerberos principals to local accounts.
type IdentityMappingConfig struct {
	// StaticMap maps "principal@REALM" to local account names.
	// Example: {"alice@EXAMPLE.COM": ["alice", "asmith"]}
	StaticMap map[string][]string `mapstructure:"static_map" yaml:"static_map,omitempty"`

	// StripRealm binds a principal absent from every source to its
	// primary name without the realm (alice@EXAMPLE.COM -> alice).
	StripRealm bool `mapstructure:"strip_realm" yaml:"strip_realm"`

	// Realms limits StripRealm to these realms. Empty uses the default_realm
	// of krb5.conf, or allows any realm when krb5.conf sets none.
	Realms []string `mapstructure:"realms" yaml:"realms,omitempty"`
}

// X509Config configures the mutual TLS acceptor.
type X509Config struct {
	// CertFile and KeyFile hold the server certificate and key (PEM).
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`

	// CAFile holds the CA certificates trusted for client certificates.
	CAFile string `mapstructure:"ca_file" yaml:"ca_file"`
}

// MetricsConfig enables Prometheus metrics collection.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from defaults, the file at configPath (or the
// default location when empty) and the environment, then validates it.
//
// An explicit configPath must exist. A missing file at the default location
// is not an error.
func Load(configPath string) (*Config, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated is Load without validation, so that callers can overlay
// CLI flags before calling Validate.
func LoadUnvalidated(configPath string) (*Config, error) {
	return load(configPath)
}

func load(configPath string) (*Config, error) {
	v := newViper()
	if err := setupViper(v, EnvPrefix, GetDefaultConfig()); err != nil {
		return nil, err
	}

	if err := mergeConfigFile(v, configPath, GetDefaultConfigPath()); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// SaveConfig writes cfg to path in YAML, creating parent directories.
func SaveConfig(cfg any, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// May contain a database password.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// keyDelimiter separates nested viper keys. Map keys such as Kerberos
// principals contain dots, so the default "." cannot be used.
const keyDelimiter = "::"

func newViper() *viper.Viper {
	return viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
}

// setupViper seeds v with defaults so that every key is known to viper and
// can be overridden from the environment, even without a config file.
func setupViper(v *viper.Viper, prefix string, defaults any) error {
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	return nil
}

// mergeConfigFile merges the file at path over the defaults. An empty path
// falls back to defaultPath, which may be missing.
func mergeConfigFile(v *viper.Viper, path, defaultPath string) error {
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("configuration file not found: %s", path)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// configDecodeHooks returns the decode hooks for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings like "30s" and raw integers
// (nanoseconds) to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/gridauth, ~/.config/gridauth, or "."
// when the home directory is unknown.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gridauth")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "gridauth")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
