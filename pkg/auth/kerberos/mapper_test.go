package kerberos

import (
	"context"
	"testing"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridauth/pkg/config"
)

func TestStaticMapper(t *testing.T) {
	m := NewStaticMapper(&config.IdentityMappingConfig{
		StaticMap: map[string][]string{
			"alice@example.com": {"asmith", "alice"},
			"ALICE@EXAMPLE.COM": {"alice"},
			"bob@EXAMPLE.COM":   {"bob"},
		},
	})
	ctx := context.Background()

	names, err := m.LookupPrincipals(ctx, "alice@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "asmith"}, names)

	names, err = m.LookupPrincipals(ctx, "Bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, names)

	names, err = m.LookupPrincipals(ctx, "carol@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, 2, m.Len())

	// Callers may not mutate the table through the result.
	names, _ = m.LookupPrincipals(ctx, "bob@EXAMPLE.COM")
	names[0] = "mallory"
	names, _ = m.LookupPrincipals(ctx, "bob@EXAMPLE.COM")
	assert.Equal(t, []string{"bob"}, names)
}

func TestStaticMapperEmptyConfig(t *testing.T) {
	m := NewStaticMapper(&config.IdentityMappingConfig{})
	names, err := m.LookupPrincipals(context.Background(), "alice@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRealmStripper(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		realms    []string
		principal string
		want      []string
	}{
		{name: "any realm", principal: "alice@EXAMPLE.COM", want: []string{"alice"}},
		{name: "allowed realm", realms: []string{"EXAMPLE.COM"}, principal: "alice@example.com", want: []string{"alice"}},
		{name: "foreign realm", realms: []string{"EXAMPLE.COM"}, principal: "alice@OTHER.ORG"},
		{name: "service principal", principal: "host/node1@EXAMPLE.COM"},
		{name: "no realm", principal: "alice"},
		{name: "empty name", principal: "@EXAMPLE.COM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRealmStripper(tt.realms, nil).LookupPrincipals(ctx, tt.principal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRealmStripperDefaultRealm(t *testing.T) {
	conf, err := krb5config.NewFromString("[libdefaults]\n default_realm = EXAMPLE.COM\n")
	require.NoError(t, err)

	r := NewRealmStripper(nil, conf)
	assert.Equal(t, []string{"EXAMPLE.COM"}, r.Realms())

	names, err := r.LookupPrincipals(context.Background(), "alice@OTHER.ORG")
	require.NoError(t, err)
	assert.Empty(t, names)

	explicit := NewRealmStripper([]string{"OTHER.ORG"}, conf)
	assert.Equal(t, []string{"OTHER.ORG"}, explicit.Realms())
}
