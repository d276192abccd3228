package schema

import (
	"runtime"
	"sync"
	"testing"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gamesType() *ResourceType {
	return NewType("Game").
		Attr("title", String, Required()).
		Attr("year", Integer).
		ToOne("system", "System", Inverse("games")).
		MustBuild()
}

func systemsType() *ResourceType {
	return NewType("systems").
		Attr("name", String).
		ToMany("games", "games", Inverse("system")).
		MustBuild()
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(gamesType()))

	rt, err := reg.Lookup("games")
	require.NoError(t, err)
	assert.Equal(t, "games", rt.Name())
	assert.Equal(t, []string{"title", "year"}, rt.AttributeNames())
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_DuplicateType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(gamesType()))

	err := reg.Register(gamesType())
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindConflict))
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Lookup("consoles")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindUnknownType))
}

func TestRegistry_UnknownField(t *testing.T) {
	reg := NewRegistry().MustRegister(gamesType(), systemsType())

	_, err := reg.Attribute("games", "publisher")
	assert.True(t, apierr.IsKind(err, apierr.KindUnknownField))

	_, err = reg.Relationship("games", "publisher")
	assert.True(t, apierr.IsKind(err, apierr.KindUnknownField))

	attr, err := reg.Attribute("games", "year")
	require.NoError(t, err)
	assert.Equal(t, Integer, attr.Type)
}

func TestRegistry_RelationshipTargetResolvedLazily(t *testing.T) {
	reg := NewRegistry()
	// games registered before systems exists
	require.NoError(t, reg.Register(gamesType()))

	_, err := reg.Relationship("games", "system")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindUnknownType))

	require.NoError(t, reg.Register(systemsType()))
	rel, err := reg.Relationship("games", "system")
	require.NoError(t, err)
	assert.Equal(t, "systems", rel.Target)
	assert.Equal(t, "system_id", rel.ForeignKey)
	assert.True(t, rel.IsToOne())
}

func TestRegistry_Validate(t *testing.T) {
	t.Run("consistent schema", func(t *testing.T) {
		reg := NewRegistry().MustRegister(gamesType(), systemsType())
		assert.NoError(t, reg.Validate())
	})

	t.Run("missing target", func(t *testing.T) {
		reg := NewRegistry().MustRegister(gamesType())
		err := reg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `target type "systems" is not registered`)
	})

	t.Run("inverse not declared", func(t *testing.T) {
		systems := NewType("systems").ToMany("games", "games", Inverse("console")).MustBuild()
		reg := NewRegistry().MustRegister(gamesType(), systems)
		err := reg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `inverse "console" is not declared`)
	})

	t.Run("asymmetric definitions are allowed", func(t *testing.T) {
		games := NewType("games").ToOne("system", "systems").MustBuild()
		systems := NewType("systems").Attr("name", String).MustBuild()
		reg := NewRegistry().MustRegister(games, systems)
		assert.NoError(t, reg.Validate())
	})
}

func TestRegistry_InverseOf(t *testing.T) {
	reg := NewRegistry().MustRegister(gamesType(), systemsType())

	rel, err := reg.Relationship("systems", "games")
	require.NoError(t, err)

	inv, ok := reg.InverseOf(rel)
	require.True(t, ok)
	assert.Equal(t, "system", inv.Name)
	assert.Equal(t, "games", inv.Owner)
}

func TestRegistry_Freeze(t *testing.T) {
	reg := NewRegistry().MustRegister(gamesType())
	reg.Freeze()

	assert.True(t, reg.Frozen())
	assert.ErrorIs(t, reg.Register(systemsType()), ErrFrozen)
}

func TestRegistry_RegisterRacingFreeze(t *testing.T) {
	for i := 0; i < 50; i++ {
		reg := NewRegistry()
		var regErr error
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			regErr = reg.Register(systemsType())
		}()
		go func() {
			defer wg.Done()
			reg.Freeze()
		}()
		go func() {
			defer wg.Done()
			for !reg.Frozen() {
				runtime.Gosched()
			}
			reg.Exists("systems")
		}()
		wg.Wait()

		if regErr != nil {
			require.ErrorIs(t, regErr, ErrFrozen)
			assert.False(t, reg.Exists("systems"))
		} else {
			assert.True(t, reg.Exists("systems"))
		}
	}
}

func TestRegistry_ConcurrentReadsAfterFreeze(t *testing.T) {
	reg := NewRegistry().MustRegister(gamesType(), systemsType())
	reg.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Relationship("systems", "games")
			assert.NoError(t, err)
			assert.Len(t, reg.Types(), 2)
		}()
	}
	wg.Wait()
}

func TestRegistry_TypesKeepRegistrationOrder(t *testing.T) {
	reg := NewRegistry().MustRegister(systemsType(), gamesType())

	var names []string
	for _, rt := range reg.Types() {
		names = append(names, rt.Name())
	}
	assert.Equal(t, []string{"systems", "games"}, names)
}
