package auth

import (
	"context"
	"fmt"
	"slices"
)

// IdentityMapper selects the local identity reported to an authenticated
// peer.
//
// Thread safety: implementations must be safe for concurrent use.
type IdentityMapper interface {
	// MapIdentity returns the local identity for peer. A nil peer is an
	// unauthenticated connection.
	MapIdentity(ctx context.Context, peer *Peer) (LocalIdentity, error)
}

// IdentityMapperFunc adapts a function to IdentityMapper.
type IdentityMapperFunc func(ctx context.Context, peer *Peer) (LocalIdentity, error)

func (f IdentityMapperFunc) MapIdentity(ctx context.Context, peer *Peer) (LocalIdentity, error) {
	return f(ctx, peer)
}

// FirstPrincipalMapper is the default IdentityMapper.
//
// The principal set has no defined order, so "first" is defined as the
// lexicographically smallest name (byte-wise comparison). A nil peer or an
// empty set maps to an absent identity. It performs no I/O and never fails.
type FirstPrincipalMapper struct{}

func (FirstPrincipalMapper) MapIdentity(_ context.Context, peer *Peer) (LocalIdentity, error) {
	return SelectPrincipal(peer), nil
}

// SelectPrincipal applies the FirstPrincipalMapper policy.
func SelectPrincipal(peer *Peer) LocalIdentity {
	if peer.Anonymous() {
		return None()
	}
	return Some(slices.Min(peer.Principals))
}

// PrincipalMapper resolves an authenticated subject (Kerberos principal or
// certificate DN) to the set of local principal names bound to it.
type PrincipalMapper interface {
	LookupPrincipals(ctx context.Context, subject string) ([]string, error)
}

// PrincipalMappers queries every mapper and returns the union of their
// results, sorted and without duplicates. The first error aborts the lookup.
type PrincipalMappers []PrincipalMapper

func (m PrincipalMappers) LookupPrincipals(ctx context.Context, subject string) ([]string, error) {
	var out []string
	for _, mapper := range m {
		if mapper == nil {
			continue
		}
		names, err := mapper.LookupPrincipals(ctx, subject)
		if err != nil {
			return nil, err
		}
		out = append(out, names...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// ResolvingMapper binds the peer subject to local names at mapping time and
// applies the FirstPrincipalMapper policy to the result.
//
// The candidate set is the union of peer.Principals and the names Source
// returns for peer.Subject. Fallback is consulted only when that union is
// empty. A lookup error is returned as is, so the session reports it to the
// client instead of treating the peer as unmapped.
type ResolvingMapper struct {
	Source   PrincipalMapper
	Fallback PrincipalMapper
}

func (m ResolvingMapper) MapIdentity(ctx context.Context, peer *Peer) (LocalIdentity, error) {
	if peer == nil {
		return None(), nil
	}

	names, err := m.resolve(ctx, peer)
	if err != nil {
		return None(), err
	}
	return SelectPrincipal(&Peer{Principals: names}), nil
}

func (m ResolvingMapper) resolve(ctx context.Context, peer *Peer) ([]string, error) {
	names := slices.Clone(peer.Principals)
	if peer.Subject == "" {
		return names, nil
	}

	if m.Source != nil {
		found, err := m.Source.LookupPrincipals(ctx, peer.Subject)
		if err != nil {
			return nil, fmt.Errorf("lookup principals for %q: %w", peer.Subject, err)
		}
		names = append(names, found...)
	}

	if len(names) == 0 && m.Fallback != nil {
		found, err := m.Fallback.LookupPrincipals(ctx, peer.Subject)
		if err != nil {
			return nil, fmt.Errorf("fallback lookup for %q: %w", peer.Subject, err)
		}
		names = found
	}
	return names, nil
}
