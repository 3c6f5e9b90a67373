package kerberos

import (
	"context"
	"slices"
	"strings"

	krb5config "github.com/jcmturner/gokrb5/v8/config"

	"github.com/marmos91/gridauth/pkg/auth"
	"github.com/marmos91/gridauth/pkg/config"
)

// StaticMapper binds principals to local names from the configured static
// map.
//
// Keys are matched case-insensitively: the configuration loader lower-cases
// map keys, so "alice@EXAMPLE.COM" arrives as "alice@example.com".
//
// This is suitable for small deployments with a known set of users. Larger
// sites use a grid-mapfile or stored mappings.
type StaticMapper struct {
	staticMap map[string][]string
}

// NewStaticMapper creates a static mapper from configuration.
func NewStaticMapper(cfg *config.IdentityMappingConfig) *StaticMapper {
	m := make(map[string][]string, len(cfg.StaticMap))
	for principal, names := range cfg.StaticMap {
		key := strings.ToLower(principal)
		m[key] = append(m[key], names...)
	}
	for key, names := range m {
		slices.Sort(names)
		m[key] = slices.Compact(names)
	}
	return &StaticMapper{staticMap: m}
}

// LookupPrincipals returns the names bound to principal ("alice@EXAMPLE.COM").
func (m *StaticMapper) LookupPrincipals(_ context.Context, principal string) ([]string, error) {
	return slices.Clone(m.staticMap[strings.ToLower(principal)]), nil
}

// Len returns the number of mapped principals.
func (m *StaticMapper) Len() int {
	return len(m.staticMap)
}

// RealmStripper binds a user principal to its primary name
// (alice@EXAMPLE.COM -> alice), the way the default auth_to_local rule does.
// Service principals (host/node1@EXAMPLE.COM) are never bound.
//
// It is meant as the fallback source of an auth.ResolvingMapper.
type RealmStripper struct {
	realms []string
}

// NewRealmStripper limits stripping to realms. Without realms, the
// default_realm of krb5Conf is used; with neither, any realm is accepted.
func NewRealmStripper(realms []string, krb5Conf *krb5config.Config) *RealmStripper {
	if len(realms) == 0 && krb5Conf != nil && krb5Conf.LibDefaults.DefaultRealm != "" {
		realms = []string{krb5Conf.LibDefaults.DefaultRealm}
	}
	return &RealmStripper{realms: slices.Clone(realms)}
}

func (r *RealmStripper) LookupPrincipals(_ context.Context, principal string) ([]string, error) {
	at := strings.LastIndex(principal, "@")
	if at <= 0 {
		return nil, nil
	}
	name, realm := principal[:at], principal[at+1:]
	if strings.Contains(name, "/") || !r.allowed(realm) {
		return nil, nil
	}
	return []string{name}, nil
}

// Realms returns the realms stripping applies to; empty means any.
func (r *RealmStripper) Realms() []string {
	return slices.Clone(r.realms)
}

func (r *RealmStripper) allowed(realm string) bool {
	if len(r.realms) == 0 {
		return true
	}
	return slices.ContainsFunc(r.realms, func(s string) bool { return strings.EqualFold(s, realm) })
}

var (
	_ auth.PrincipalMapper = (*StaticMapper)(nil)
	_ auth.PrincipalMapper = (*RealmStripper)(nil)
)
