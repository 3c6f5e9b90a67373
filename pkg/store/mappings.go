package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marmos91/gridauth/internal/telemetry"
)

// AddIdentityMapping binds username to subject.
func (s *GORMStore) AddIdentityMapping(ctx context.Context, subject, username string) (*IdentityMapping, error) {
	subject = strings.TrimSpace(subject)
	username = strings.TrimSpace(username)
	if subject == "" || username == "" {
		return nil, ErrInvalidMapping
	}

	m := &IdentityMapping{
		ID:       uuid.New().String(),
		Subject:  subject,
		Username: username,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateMapping
		}
		return nil, fmt.Errorf("add identity mapping: %w", err)
	}
	return m, nil
}

// RemoveIdentityMapping deletes the binding of username to subject. An empty
// username removes every binding of subject. It returns ErrMappingNotFound
// when nothing was deleted.
func (s *GORMStore) RemoveIdentityMapping(ctx context.Context, subject, username string) error {
	q := s.db.WithContext(ctx).Where("subject = ?", subject)
	if username != "" {
		q = q.Where("username = ?", username)
	}

	result := q.Delete(&IdentityMapping{})
	if result.Error != nil {
		return fmt.Errorf("remove identity mapping: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMappingNotFound
	}
	return nil
}

// ListIdentityMappings returns the mappings of subject, or all mappings when
// subject is empty, ordered by subject then username.
func (s *GORMStore) ListIdentityMappings(ctx context.Context, subject string) ([]*IdentityMapping, error) {
	q := s.db.WithContext(ctx).Order("subject ASC").Order("username ASC")
	if subject != "" {
		q = q.Where("subject = ?", subject)
	}

	var mappings []*IdentityMapping
	if err := q.Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("list identity mappings: %w", err)
	}
	return mappings, nil
}

// LookupPrincipals returns the usernames bound to subject, sorted. An unknown
// subject yields an empty set and no error.
func (s *GORMStore) LookupPrincipals(ctx context.Context, subject string) ([]string, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPrincipalScan,
		telemetry.Subject(subject), telemetry.StoreType(string(s.config.Type)))
	defer span.End()

	var names []string
	err := s.db.WithContext(ctx).
		Model(&IdentityMapping{}).
		Where("subject = ?", subject).
		Order("username ASC").
		Pluck("username", &names).Error
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("lookup principals for %q: %w", subject, err)
	}
	return names, nil
}
