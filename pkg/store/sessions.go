package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/marmos91/gridauth/internal/telemetry"
	"github.com/marmos91/gridauth/pkg/session"
)

// DefaultListLimit bounds ListSessions when no limit is given.
const DefaultListLimit = 100

// RecordSession appends a finished session to the audit trail.
func (s *GORMStore) RecordSession(ctx context.Context, r *session.Result) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanStoreRecord, telemetry.StoreType(string(s.config.Type)))
	defer span.End()

	rec := newSessionRecord(r)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("record session %s: %w", rec.ID, err)
	}
	return nil
}

func newSessionRecord(r *session.Result) *SessionRecord {
	rec := &SessionRecord{
		ID:         r.ID,
		RemoteAddr: r.RemoteAddr,
		Mechanism:  r.Mechanism(),
		Outcome:    r.Outcome.String(),
		StartedAt:  r.StartedAt,
		DurationMs: r.Duration.Milliseconds(),
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if r.Peer != nil {
		rec.Subject = r.Peer.Subject
	}
	if name, ok := r.Identity.Get(); ok {
		rec.Identity = name
	}
	if r.Response != nil {
		rec.Responded = true
		rec.StatusCode = r.Response.StatusCode()
		rec.Message = r.Response.Message()
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	// Outcome keeps only sessions with this outcome when set.
	Outcome string

	// Subject keeps only sessions of this authenticated subject when set.
	Subject string

	// Limit caps the number of records. Zero uses DefaultListLimit.
	Limit int
}

// ListSessions returns the most recent sessions first.
func (s *GORMStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*SessionRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}
	if filter.Subject != "" {
		q = q.Where("subject = ?", filter.Subject)
	}

	var records []*SessionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return records, nil
}
