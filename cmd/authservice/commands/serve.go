package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/internal/telemetry"
	"github.com/marmos91/gridauth/pkg/api"
	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/auth/gridmap"
	"github.com/marmos91/gridauth/pkg/auth/kerberos"
	"github.com/marmos91/gridauth/pkg/auth/x509"
	"github.com/marmos91/gridauth/pkg/config"
	"github.com/marmos91/gridauth/pkg/metrics"
	promMetrics "github.com/marmos91/gridauth/pkg/metrics/prometheus"
	"github.com/marmos91/gridauth/pkg/server"
	"github.com/marmos91/gridauth/pkg/session"
	"github.com/marmos91/gridauth/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	servePort      int
	serveLog       string
	serveBind      string
	serveLogLevel  string
	serveLogFormat string
	serveMechanism string
)

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVarP(&servePort, "port", "p", 0, "TCP port to listen on (required)")
	f.StringVar(&serveLog, "log", "", "append logs to this file instead of stdout")
	f.StringVar(&serveBind, "bind", "", "address to bind (default: all interfaces)")
	f.StringVar(&serveLogLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	f.StringVar(&serveLogFormat, "log-format", "", "log format (text, json)")
	f.StringVar(&serveMechanism, "mechanism", "", "authentication mechanism (kerberos, x509)")
}

// applyServeFlags overlays the flags the user set on cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Server.Port = servePort
	}
	if f.Changed("log") {
		cfg.Logging.Output = serveLog
	}
	if f.Changed("bind") {
		cfg.Server.BindAddress = serveBind
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = strings.ToUpper(serveLogLevel)
	}
	if f.Changed("log-format") {
		cfg.Logging.Format = strings.ToLower(serveLogFormat)
	}
	if f.Changed("mechanism") {
		cfg.Auth.Mechanism = strings.ToLower(serveMechanism)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadUnvalidated(GetConfigFile())
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	if cfg.Server.Port == 0 {
		return errors.New("a listening port is required (-p <port>)")
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	sink, err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to open log output: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hook := &server.ShutdownHook{Sink: sink, Timeout: cfg.ShutdownTimeout}
	srv, err := startService(ctx, cfg, hook)
	if err != nil {
		logger.Error("Failed to start authentication service", logger.Err(err))
		// Resources acquired so far are released the same way a shutdown
		// releases them.
		hook.Run("startup failed")
		return err
	}
	hook.Service = srv

	reason := server.WaitForSignal(ctx)
	cancel()
	hook.Run(reason)
	return nil
}

// startService builds every component from cfg, registers its cleanup on
// hook and starts the listener.
func startService(ctx context.Context, cfg *config.Config, hook *server.ShutdownHook) (*server.Server, error) {
	telemetryShutdown, err := telemetry.Start(ctx, telemetry.Config{
		ServiceName:    "authservice",
		ServiceVersion: Version,
		Mechanism:      cfg.Auth.Mechanism,
		Tracing: telemetry.TracingConfig{
			Enabled:    cfg.Telemetry.Enabled,
			Endpoint:   cfg.Telemetry.Endpoint,
			Insecure:   cfg.Telemetry.Insecure,
			SampleRate: cfg.Telemetry.SampleRate,
		},
		Profiling: telemetry.ProfilingConfig{
			Enabled:      cfg.Telemetry.Profiling.Enabled,
			Endpoint:     cfg.Telemetry.Profiling.Endpoint,
			ProfileTypes: cfg.Telemetry.Profiling.ProfileTypes,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	hook.Cleanup = append(hook.Cleanup, telemetryShutdown)
	if cfg.Telemetry.Enabled {
		logger.Info("Tracing enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if cfg.Telemetry.Profiling.Enabled {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	var (
		reg *prometheus.Registry
		m   metrics.ServiceMetrics
	)
	if cfg.Metrics.Enabled {
		reg = metrics.InitRegistry()
		m = promMetrics.NewServiceMetrics()
	}

	var st *store.GORMStore
	if cfg.Database.Enabled {
		st, err = store.New(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		hook.Cleanup = append(hook.Cleanup, func(context.Context) error { return st.Close() })
		logger.Info("Session audit trail enabled", "type", st.Type())
	}

	acceptor, mapper, err := buildAuth(ctx, cfg, st, hook)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{session.WithMapper(mapper), session.WithMetrics(m)}
	if st != nil {
		opts = append(opts, session.WithRecorder(st))
	}
	handler := session.NewHandler(acceptor, opts...)

	srv := server.New(server.Config{
		BindAddress:        cfg.Server.BindAddress,
		Port:               cfg.Server.Port,
		MaxConnections:     cfg.Server.MaxConnections,
		MetricsLogInterval: cfg.Server.MetricsLogInterval,
	}, handler, m)
	if err := srv.Start(); err != nil {
		return nil, err
	}

	if cfg.API.Enabled {
		deps := api.Dependencies{Service: srv, Registry: reg}
		if st != nil {
			deps.Store = st
		}
		apiServer := api.NewServer(cfg.API, deps)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server failed", logger.Err(err))
			}
		}()
		hook.Cleanup = append([]func(context.Context) error{apiServer.Stop}, hook.Cleanup...)
	}

	return srv, nil
}

// buildAuth returns the acceptor for the configured mechanism and the
// mapper that turns its authenticated subjects into local identities.
func buildAuth(ctx context.Context, cfg *config.Config, st *store.GORMStore, hook *server.ShutdownHook) (auth.Acceptor, auth.IdentityMapper, error) {
	var sources auth.PrincipalMappers

	if cfg.Auth.GridMapFile != "" {
		gm, err := gridmap.Load(cfg.Auth.GridMapFile)
		if err != nil {
			return nil, nil, err
		}
		go gm.Watch(ctx, cfg.Auth.GridMapReloadInterval)
		logger.Info("Grid-mapfile loaded", logger.KeyPath, gm.Path(), logger.KeyCount, gm.Len())
		sources = append(sources, gm)
	}

	switch cfg.Auth.Mechanism {
	case config.MechanismKerberos:
		provider, err := kerberos.NewProvider(&cfg.Auth.Kerberos)
		if err != nil {
			return nil, nil, err
		}
		hook.Cleanup = append(hook.Cleanup, func(context.Context) error { return provider.Close() })

		static := kerberos.NewStaticMapper(&cfg.Auth.Kerberos.IdentityMapping)
		sources = append(auth.PrincipalMappers{static}, sources...)
		if st != nil {
			sources = append(sources, st)
		}

		mapper := auth.ResolvingMapper{Source: sources}
		if cfg.Auth.Kerberos.IdentityMapping.StripRealm {
			mapper.Fallback = kerberos.NewRealmStripper(cfg.Auth.Kerberos.IdentityMapping.Realms, provider.Krb5Config())
		}

		acceptor := auth.NewTokenAcceptor(provider)
		acceptor.Timeout = cfg.Server.HandshakeTimeout
		logger.Info("Kerberos authentication configured",
			logger.KeySPN, provider.ServicePrincipal(), "static_mappings", static.Len())
		return acceptor, mapper, nil

	case config.MechanismX509:
		acceptor, err := x509.NewAcceptor(cfg.Auth.X509)
		if err != nil {
			return nil, nil, err
		}
		acceptor.Timeout = cfg.Server.HandshakeTimeout
		if st != nil {
			sources = append(sources, st)
		}
		if len(sources) == 0 {
			logger.Warn("No principal source configured; every client will be refused an identity")
		}
		logger.Info("X.509 authentication configured", "ca_file", cfg.Auth.X509.CAFile)
		return acceptor, auth.ResolvingMapper{Source: sources}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported authentication mechanism %q", cfg.Auth.Mechanism)
	}
}
