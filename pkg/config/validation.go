package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags and the cross-field rules
// tags cannot express. It does not modify cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry.profiling.endpoint is required when profiling is enabled")
	}

	if cfg.Auth.Mechanism == MechanismX509 {
		if err := validateX509(cfg.Auth.X509); err != nil {
			return err
		}
	}

	if cfg.Database.Enabled {
		if err := cfg.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if cfg.API.Enabled && cfg.API.Port == cfg.Server.Port && sameBind(cfg.API.BindAddress, cfg.Server.BindAddress) {
		return fmt.Errorf("api.port %d conflicts with server.port", cfg.API.Port)
	}
	return nil
}

func validateX509(cfg X509Config) error {
	var missing []string
	if cfg.CertFile == "" {
		missing = append(missing, "cert_file")
	}
	if cfg.KeyFile == "" {
		missing = append(missing, "key_file")
	}
	if cfg.CAFile == "" {
		missing = append(missing, "ca_file")
	}
	if len(missing) > 0 {
		return fmt.Errorf("auth.x509: %s required for mechanism x509", strings.Join(missing, ", "))
	}
	return nil
}

// sameBind reports whether two bind addresses can collide on one port.
func sameBind(a, b string) bool {
	wildcard := func(s string) bool { return s == "" || s == "0.0.0.0" || s == "::" }
	return a == b || wildcard(a) || wildcard(b)
}

// formatValidationError flattens validator errors into one message naming
// each failing field and rule, e.g.
// "Config.Logging.Level failed on 'oneof' (value: TRACE)".
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s failed on '%s=%s'", fe.Namespace(), fe.Tag(), fe.Param())
		}
		if v := fe.Value(); v != nil && fmt.Sprint(v) != "" {
			msg += fmt.Sprintf(" (value: %v)", v)
		}
		msgs = append(msgs, msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}
