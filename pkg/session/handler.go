// Package session implements the server side of one authentication session:
// run the handshake, map the verified peer to a local identity, send exactly
// one response and close the connection.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/gridauth/internal/logger"
	"github.com/marmos91/gridauth/internal/telemetry"
	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/metrics"
	"github.com/marmos91/gridauth/pkg/response"
)

// Recorder receives every finished session, typically for auditing.
// Errors are logged and otherwise ignored.
type Recorder interface {
	RecordSession(ctx context.Context, r *Result) error
}

// Result describes a finished session.
type Result struct {
	ID         string
	RemoteAddr string
	Peer       *auth.Peer
	Identity   auth.LocalIdentity

	// Response is the response delivered to the client, nil if none was.
	Response *response.Message

	Outcome Outcome

	// Err is the first error of the session: the handshake error, the
	// mapping error or the first send error.
	Err error

	// Path lists every state the session went through, ending in StateClosed.
	Path []State

	StartedAt time.Time
	Duration  time.Duration
}

// Mechanism returns the mechanism of the verified peer, if any.
func (r *Result) Mechanism() string {
	if r.Peer == nil {
		return ""
	}
	return r.Peer.Mechanism
}

// Handler serves sessions. It is safe for concurrent use; each call to Serve
// owns its connection exclusively.
type Handler struct {
	acceptor auth.Acceptor
	mapper   auth.IdentityMapper
	recorder Recorder
	metrics  metrics.ServiceMetrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithMapper replaces the default FirstPrincipalMapper.
func WithMapper(m auth.IdentityMapper) Option {
	return func(h *Handler) { h.mapper = m }
}

// WithRecorder sets the session recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m metrics.ServiceMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a Handler that authenticates connections with acceptor.
func NewHandler(acceptor auth.Acceptor, opts ...Option) *Handler {
	h := &Handler{
		acceptor: acceptor,
		mapper:   auth.FirstPrincipalMapper{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// session is the state of one Serve call.
type session struct {
	raw      net.Conn
	conn     auth.Conn
	closed   bool
	closeErr error
	state    State
	result   *Result
}

func (s *session) transition(to State) {
	if !canTransition(s.state, to) {
		panic(fmt.Sprintf("session: invalid transition %s -> %s", s.state, to))
	}
	s.state = to
	s.result.Path = append(s.result.Path, to)
}

// close closes the connection exactly once. The authenticated connection is
// preferred so that wrappers such as TLS can say goodbye. A session is only
// touched by the goroutine serving it.
func (s *session) close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true

	var c net.Conn = s.raw
	if s.conn != nil {
		c = s.conn
	}
	s.closeErr = c.Close()
	return s.closeErr
}

// Serve runs one session on raw and closes it before returning. The
// returned Result is never nil.
func (h *Handler) Serve(ctx context.Context, raw net.Conn) *Result {
	start := time.Now()
	remote := ""
	if addr := raw.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	s := &session{
		raw:   raw,
		state: StateAccepted,
		result: &Result{
			ID:         uuid.NewString(),
			RemoteAddr: remote,
			Path:       []State{StateAccepted},
			StartedAt:  start,
		},
	}

	lc := logger.NewLogContext(s.result.ID, remote)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSession,
		telemetry.RemoteAddr(remote), telemetry.SessionID(s.result.ID))
	defer span.End()
	if sc := span.SpanContext(); sc.IsValid() {
		lc = lc.WithTrace(sc.TraceID().String(), sc.SpanID().String())
	}
	ctx = logger.WithContext(ctx, lc)

	h.run(ctx, s)

	if err := s.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.DebugCtx(ctx, "Error closing connection", logger.Err(err))
	}
	s.transition(StateClosed)

	r := s.result
	r.Duration = time.Since(start)

	span.SetAttributes(telemetry.Outcome(r.Outcome.String()))
	if r.Err != nil {
		telemetry.RecordError(ctx, r.Err)
	}
	h.finish(ctx, r)
	return r
}

func (h *Handler) run(ctx context.Context, s *session) {
	s.transition(StateAuthenticating)

	var (
		conn auth.Conn
		err  error
	)
	hsCtx, hsSpan := telemetry.StartSpan(ctx, telemetry.SpanHandshake)
	telemetry.Profile(hsCtx, telemetry.StageHandshake, "", func(ctx context.Context) {
		conn, err = h.acceptor.Accept(ctx, s.raw)
	})
	hsSpan.End()

	if err != nil {
		s.transition(StateRejected)
		s.result.Outcome = OutcomeRejected
		s.result.Err = err
		h.recordHandshake(handshakeMechanism(err), err)
		logger.WarnCtx(ctx, "Handshake rejected, closing connection", logger.Err(err))
		return
	}

	s.conn = conn
	s.transition(StateAuthenticated)

	peer := conn.Peer()
	s.result.Peer = peer
	mechanism := ""
	if peer != nil {
		mechanism = peer.Mechanism
		lc := logger.FromContext(ctx).WithMechanism(mechanism)
		ctx = logger.WithContext(ctx, lc)
		logger.DebugCtx(ctx, "Handshake complete",
			logger.Subject(peer.Subject), logger.KeyPrincipal, peer.Principals)
	}
	h.recordHandshake(mechanism, nil)

	var identity auth.LocalIdentity
	telemetry.Profile(ctx, telemetry.StageMapIdentity, mechanism, func(ctx context.Context) {
		identity, err = h.mapIdentity(ctx, peer)
	})
	s.result.Identity = identity
	if err == nil {
		resp := response.Success(identity)
		if err = h.send(ctx, conn, resp); err == nil {
			s.transition(StateResponseSent)
			s.result.Outcome = OutcomeSucceeded
			s.result.Response = &resp
			name, ok := identity.Get()
			logger.InfoCtx(ctx, "Authentication successful",
				logger.Identity(name, ok), logger.Status(resp.StatusCode()))
			return
		}
		logger.WarnCtx(ctx, "Failed to send response", logger.Err(err))
	} else {
		logger.WarnCtx(ctx, "Identity mapping failed", logger.Err(err))
	}

	// One best-effort failure response, never retried.
	s.result.Err = err
	failure := response.Failure(err, identity)
	if sendErr := h.send(ctx, conn, failure); sendErr != nil {
		s.transition(StateFailed)
		s.result.Outcome = OutcomeAbandoned
		logger.ErrorCtx(ctx, "Failed to send failure response, abandoning session",
			logger.Err(sendErr), logger.KeyReason, err.Error())
		return
	}

	s.transition(StateResponseSent)
	s.result.Outcome = OutcomeFailureSent
	s.result.Response = &failure
	logger.InfoCtx(ctx, "Sent failure response", logger.Status(failure.StatusCode()))
}

// mapIdentity runs the mapper, turning a panic into an error so the session
// can still answer.
func (h *Handler) mapIdentity(ctx context.Context, peer *auth.Peer) (id auth.LocalIdentity, err error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanMapIdentity)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			id = auth.None()
			err = fmt.Errorf("identity mapper panic: %v", r)
		}
	}()

	id, err = h.mapper.MapIdentity(ctx, peer)
	if err != nil {
		return auth.None(), err
	}
	span.SetAttributes(telemetry.Identity(id.String()))
	return id, nil
}

// send encodes resp and writes it in a single call.
func (h *Handler) send(ctx context.Context, conn net.Conn, resp response.Message) error {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanSendResponse,
		telemetry.Status(resp.StatusCode()))
	defer span.End()

	var buf bytes.Buffer
	if err := resp.Encode(&buf); err != nil {
		return err
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func (h *Handler) recordHandshake(mechanism string, err error) {
	if h.metrics != nil {
		h.metrics.RecordHandshake(mechanism, err)
	}
}

func (h *Handler) finish(ctx context.Context, r *Result) {
	if h.metrics != nil {
		h.metrics.RecordSession(r.Outcome.String(), !r.Identity.Present(), r.Duration)
	}
	if h.recorder != nil {
		if err := h.recorder.RecordSession(ctx, r); err != nil {
			logger.WarnCtx(ctx, "Failed to record session", logger.Err(err))
		}
	}
	logger.DebugCtx(ctx, "Session closed",
		logger.KeyOutcome, r.Outcome.String(), logger.DurationMs(r.Duration))
}

func handshakeMechanism(err error) string {
	var he *auth.HandshakeError
	if errors.As(err, &he) {
		return he.Mechanism
	}
	return ""
}
