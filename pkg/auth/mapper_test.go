package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstPrincipalMapper(t *testing.T) {
	ctx := context.Background()
	m := FirstPrincipalMapper{}

	t.Run("NilPeerIsAbsent", func(t *testing.T) {
		id, err := m.MapIdentity(ctx, nil)
		require.NoError(t, err)
		assert.False(t, id.Present())
		assert.Equal(t, "-", id.String())
	})

	t.Run("EmptySetIsAbsent", func(t *testing.T) {
		id, err := m.MapIdentity(ctx, &Peer{Subject: "carol@EXAMPLE.COM"})
		require.NoError(t, err)
		assert.False(t, id.Present())
	})

	t.Run("SingleElement", func(t *testing.T) {
		id, err := m.MapIdentity(ctx, &Peer{Principals: []string{"alice"}})
		require.NoError(t, err)
		name, ok := id.Get()
		assert.True(t, ok)
		assert.Equal(t, "alice", name)
	})

	t.Run("LexicographicallySmallestWins", func(t *testing.T) {
		orders := [][]string{
			{"zed", "alice", "bob"},
			{"bob", "zed", "alice"},
			{"alice", "bob", "zed"},
		}
		for _, principals := range orders {
			id, err := m.MapIdentity(ctx, &Peer{Principals: principals})
			require.NoError(t, err)
			assert.Equal(t, Some("alice"), id, "principals %v", principals)
		}
	})

	t.Run("ByteWiseOrdering", func(t *testing.T) {
		// Upper case sorts before lower case.
		id := SelectPrincipal(&Peer{Principals: []string{"alice", "Bob"}})
		assert.Equal(t, "Bob", id.String())
	})

	t.Run("DoesNotReorderInput", func(t *testing.T) {
		principals := []string{"zed", "alice"}
		SelectPrincipal(&Peer{Principals: principals})
		assert.Equal(t, []string{"zed", "alice"}, principals)
	})
}

type staticPrincipals map[string][]string

func (s staticPrincipals) LookupPrincipals(_ context.Context, subject string) ([]string, error) {
	return s[subject], nil
}

type failingPrincipals struct{ err error }

func (f failingPrincipals) LookupPrincipals(context.Context, string) ([]string, error) {
	return nil, f.err
}

func TestPrincipalMappers(t *testing.T) {
	ctx := context.Background()

	t.Run("UnionSortedAndDeduplicated", func(t *testing.T) {
		m := PrincipalMappers{
			staticPrincipals{"alice@EXAMPLE.COM": {"alice", "grid01"}},
			nil,
			staticPrincipals{"alice@EXAMPLE.COM": {"alice", "admin"}},
		}
		names, err := m.LookupPrincipals(ctx, "alice@EXAMPLE.COM")
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "alice", "grid01"}, names)
	})

	t.Run("UnknownSubjectIsEmpty", func(t *testing.T) {
		m := PrincipalMappers{staticPrincipals{}}
		names, err := m.LookupPrincipals(ctx, "mallory@EXAMPLE.COM")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("ErrorAborts", func(t *testing.T) {
		boom := errors.New("database unavailable")
		m := PrincipalMappers{staticPrincipals{"a": {"a"}}, failingPrincipals{boom}}
		_, err := m.LookupPrincipals(ctx, "a")
		assert.ErrorIs(t, err, boom)
	})
}

func TestPeerClone(t *testing.T) {
	p := &Peer{Subject: "alice", Principals: []string{"alice"}, Attributes: map[string]string{"realm": "EXAMPLE.COM"}}
	c := p.Clone()
	c.Principals[0] = "mallory"
	c.Attributes["realm"] = "EVIL.COM"

	assert.Equal(t, "alice", p.Principals[0])
	assert.Equal(t, "EXAMPLE.COM", p.Attributes["realm"])
	assert.Nil(t, (*Peer)(nil).Clone())
	assert.True(t, (*Peer)(nil).Anonymous())
}

func TestResolvingMapper(t *testing.T) {
	ctx := context.Background()
	source := staticPrincipals{"alice@EXAMPLE.COM": {"grid01", "alice"}}
	fallback := staticPrincipals{"bob@EXAMPLE.COM": {"bob"}, "alice@EXAMPLE.COM": {"zz"}}

	t.Run("SourceNamesSelected", func(t *testing.T) {
		m := ResolvingMapper{Source: source, Fallback: fallback}
		id, err := m.MapIdentity(ctx, &Peer{Subject: "alice@EXAMPLE.COM"})
		require.NoError(t, err)
		assert.Equal(t, Some("alice"), id)
	})

	t.Run("UnionWithPeerPrincipals", func(t *testing.T) {
		m := ResolvingMapper{Source: source}
		id, err := m.MapIdentity(ctx, &Peer{Subject: "alice@EXAMPLE.COM", Principals: []string{"admin"}})
		require.NoError(t, err)
		assert.Equal(t, Some("admin"), id)
	})

	t.Run("FallbackOnlyWhenEmpty", func(t *testing.T) {
		m := ResolvingMapper{Source: source, Fallback: fallback}
		id, err := m.MapIdentity(ctx, &Peer{Subject: "bob@EXAMPLE.COM"})
		require.NoError(t, err)
		assert.Equal(t, Some("bob"), id)
	})

	t.Run("UnmappedIsAbsent", func(t *testing.T) {
		m := ResolvingMapper{Source: source, Fallback: fallback}
		id, err := m.MapIdentity(ctx, &Peer{Subject: "carol@EXAMPLE.COM"})
		require.NoError(t, err)
		assert.False(t, id.Present())
	})

	t.Run("NilPeerIsAbsent", func(t *testing.T) {
		id, err := ResolvingMapper{Source: source}.MapIdentity(ctx, nil)
		require.NoError(t, err)
		assert.False(t, id.Present())
	})

	t.Run("SourceErrorPropagates", func(t *testing.T) {
		boom := errors.New("database unavailable")
		m := ResolvingMapper{Source: failingPrincipals{boom}}
		_, err := m.MapIdentity(ctx, &Peer{Subject: "alice@EXAMPLE.COM"})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("FallbackErrorPropagates", func(t *testing.T) {
		boom := errors.New("lookup failed")
		m := ResolvingMapper{Source: staticPrincipals{}, Fallback: failingPrincipals{boom}}
		_, err := m.MapIdentity(ctx, &Peer{Subject: "alice@EXAMPLE.COM"})
		assert.ErrorIs(t, err, boom)
	})
}
