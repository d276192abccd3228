package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	t.Run("canonicalizes names", func(t *testing.T) {
		rt := NewType("VideoGame").ToOne("platform", "GameSystem").MustBuild()
		assert.Equal(t, "video_games", rt.Name())

		rel, ok := rt.Relationship("platform")
		require.True(t, ok)
		assert.Equal(t, "game_systems", rel.Target)
		assert.Equal(t, "video_games", rel.Owner)
		assert.Equal(t, "platform_id", rel.ForeignKey)
	})

	t.Run("options", func(t *testing.T) {
		rt := NewType("games").
			IDs(IDUUID).
			Attr("title", String, Required(), MaxLength(80)).
			ToOne("system", "systems", ForeignKey("console_id"), RequiredLink()).
			MustBuild()

		assert.Equal(t, IDUUID, rt.IDType())
		attr, ok := rt.Attribute("title")
		require.True(t, ok)
		assert.True(t, attr.Required)
		assert.Equal(t, 80, attr.MaxLength)

		rel, ok := rt.ToOneByForeignKey("console_id")
		require.True(t, ok)
		assert.Equal(t, "system", rel.Name)
		assert.True(t, rel.Required)
	})

	t.Run("collects errors", func(t *testing.T) {
		_, err := NewType("games").
			Attr("id", String).
			Attr("title", String).
			Attr("title", Text).
			ToMany("reviews", "reviews", RequiredLink()).
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "3 errors")
		assert.Contains(t, err.Error(), `"id" is a reserved name`)
		assert.Contains(t, err.Error(), `field "title" is declared twice`)
		assert.Contains(t, err.Error(), "cannot be required")
	})

	t.Run("foreign key collision", func(t *testing.T) {
		_, err := NewType("games").
			Attr("system_id", Integer).
			ToOne("system", "systems").
			Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "collides with an attribute")
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := NewType("  ").Build()
		assert.Error(t, err)
	})

	t.Run("accessors return copies", func(t *testing.T) {
		rt := NewType("games").Attr("title", String).MustBuild()
		attrs := rt.Attributes()
		attrs[0].Name = "changed"
		assert.Equal(t, []string{"title"}, rt.AttributeNames())
	})
}

func TestCanonicalName(t *testing.T) {
	tests := map[string]string{
		"Game":        "games",
		"games":       "games",
		"system":      "systems",
		"VideoSystem": "video_systems",
		"category":    "categories",
		"day":         "days",
		"box":         "boxes",
		"address":     "addresses",
		"HTTPServer":  "http_servers",
		"match":       "matches",
		"game-save":   "game_saves",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, CanonicalName(in))
		})
	}
}

func TestSingularize(t *testing.T) {
	assert.Equal(t, "game", Singularize("games"))
	assert.Equal(t, "category", Singularize("categories"))
	assert.Equal(t, "box", Singularize("boxes"))
	assert.Equal(t, "address", Singularize("addresses"))
	assert.Equal(t, "glass", Singularize("glass"))
}

func TestParseTypes(t *testing.T) {
	at, err := ParseAttrType("timestamp")
	require.NoError(t, err)
	assert.Equal(t, DateTime, at)

	_, err = ParseAttrType("blob")
	assert.Error(t, err)

	c, err := ParseCardinality("has_many")
	require.NoError(t, err)
	assert.Equal(t, ToMany, c)

	id, err := ParseIDType("")
	require.NoError(t, err)
	assert.Equal(t, IDInteger, id)
}
