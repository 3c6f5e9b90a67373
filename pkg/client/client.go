// Package client implements the requesting side: authenticate to the
// service, receive the mapped identity and persist it for the transfer
// daemon.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/internal/telemetry"
	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/response"
)

// ExitLocalFailure is the exit code for any failure that prevented the
// exchange from completing.
const ExitLocalFailure = 1

// Config holds the client parameters.
type Config struct {
	Host     string
	Port     int
	UserFile string

	// ProxyFile is accepted for compatibility with existing invocations and
	// is not used.
	ProxyFile string
}

// Validate checks the required fields.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}
	if c.UserFile == "" {
		errs = append(errs, errors.New("user file is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

var (
	// ErrInvalidConfig is returned when required parameters are missing.
	ErrInvalidConfig = errors.New("client: invalid configuration")

	// ErrUnresolvableHost is returned when the server host name cannot be resolved.
	ErrUnresolvableHost = errors.New("client: cannot resolve host")

	// ErrNoIdentity is returned when the server reports success without a
	// local identity; there is nothing to persist.
	ErrNoIdentity = errors.New("client: server returned no local identity")
)

// ServerError is a failure reported by the server in a delivered response.
type ServerError struct {
	Response response.Message
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server reported failure (status %d): %s",
		e.Response.StatusCode(), e.Response.Message())
}

// Runner performs one exchange.
type Runner struct {
	Config Config
	Dialer auth.Dialer

	// Resolver is used to check the host before dialing. Nil uses
	// net.DefaultResolver.
	Resolver *net.Resolver

	// Out receives the human-readable outcome. Nil uses os.Stdout.
	Out io.Writer
}

// Run performs the exchange and returns the process exit code together with
// the error that caused a nonzero code. A server-reported failure returns a
// *ServerError and the server's status code (see ExitCode).
func (r *Runner) Run(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanClientRun)
	defer span.End()

	resp, err := r.Exchange(ctx)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return ExitLocalFailure, err
	}
	span.SetAttributes(telemetry.Status(resp.StatusCode()))

	if !resp.Succeeded() {
		r.printf("%s\n", resp)
		return ExitCode(resp.StatusCode()), &ServerError{Response: resp}
	}

	identity, ok := resp.LocalIdentity().Get()
	if !ok {
		return ExitLocalFailure, ErrNoIdentity
	}
	if err := AppendIdentity(r.Config.UserFile, identity); err != nil {
		return ExitLocalFailure, err
	}

	logger.Debug("Stored local identity", logger.KeyIdentity, identity, logger.KeyUserFile, r.Config.UserFile)
	return 0, nil
}

// Exchange resolves the host, completes the handshake and reads the single
// response. It never touches the user file.
func (r *Runner) Exchange(ctx context.Context) (response.Message, error) {
	if err := r.Config.Validate(); err != nil {
		return response.Message{}, err
	}
	if r.Dialer == nil {
		return response.Message{}, fmt.Errorf("%w: no dialer configured", ErrInvalidConfig)
	}

	resolver := r.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if _, err := resolver.LookupHost(ctx, r.Config.Host); err != nil {
		return response.Message{}, fmt.Errorf("%w %q: %w", ErrUnresolvableHost, r.Config.Host, err)
	}

	address := net.JoinHostPort(r.Config.Host, strconv.Itoa(r.Config.Port))
	logger.Debug("Connecting to authentication service", logger.KeyHost, r.Config.Host, logger.KeyPort, r.Config.Port)

	conn, err := r.Dialer.DialContext(ctx, address)
	if err != nil {
		return response.Message{}, fmt.Errorf("connect to %s: %w", address, err)
	}
	defer conn.Close()

	resp, err := response.Decode(conn)
	if err != nil {
		return response.Message{}, fmt.Errorf("read response from %s: %w", address, err)
	}
	logger.Debug("Received response", logger.Status(resp.StatusCode()))
	return resp, nil
}

func (r *Runner) printf(format string, args ...any) {
	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	_, _ = fmt.Fprintf(out, format, args...)
}

// ExitCode maps a server status code to a process exit code. The status is
// passed through unchanged unless the operating system would truncate a
// nonzero status to 0 (exit codes are 8 bits wide), in which case
// ExitLocalFailure is used so a failure never looks like success.
func ExitCode(status int32) int {
	if status != 0 && status&0xff == 0 {
		return ExitLocalFailure
	}
	return int(status)
}
