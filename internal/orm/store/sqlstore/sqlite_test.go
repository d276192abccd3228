package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema/schematest"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/orm/validation"
)

func ptr(s string) *string { return &s }

// openSQLite opens a migrated in-memory SQLite store for reg
func openSQLite(t *testing.T, reg *schema.Registry) *Store {
	t.Helper()
	ctx := context.Background()

	s, err := Open(ctx, "sqlite", ":memory:", reg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Migrate(ctx)
	require.NoError(t, err)
	return s
}

func seedRetroGames(t *testing.T, s *Store) (systems, games *schema.ResourceType) {
	t.Helper()
	ctx := context.Background()

	systems, err := s.reg.Lookup("systems")
	require.NoError(t, err)
	games, err = s.reg.Lookup("games")
	require.NoError(t, err)

	for _, name := range []string{"Mega Drive", "Super Nintendo"} {
		rec := store.NewRecord("systems", "")
		rec.Attributes["name"] = name
		_, err := s.Create(ctx, systems, rec)
		require.NoError(t, err)
	}
	for _, g := range []struct {
		title  string
		year   int64
		system string
	}{
		{"Sonic the Hedgehog", 1991, "1"},
		{"Streets of Rage", 1991, "1"},
		{"Super Metroid", 1994, "2"},
	} {
		rec := store.NewRecord("games", "")
		rec.Attributes["title"] = g.title
		rec.Attributes["year"] = g.year
		rec.Links["system"] = ptr(g.system)
		_, err := s.Create(ctx, games, rec)
		require.NoError(t, err)
	}
	return systems, games
}

func recordIDs(records []*store.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestSQLite_CreateAndGet(t *testing.T) {
	s := openSQLite(t, schematest.RetroGames())
	_, games := seedRetroGames(t, s)

	rec, err := s.Get(context.Background(), games, "3")
	require.NoError(t, err)
	assert.Equal(t, "games", rec.Type)
	assert.Equal(t, "Super Metroid", rec.Attributes["title"])
	assert.Equal(t, int64(1994), rec.Attributes["year"])
	system, ok := rec.Link("system")
	require.True(t, ok)
	assert.Equal(t, "2", system)

	_, err = s.Get(context.Background(), games, "42")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Get(context.Background(), games, "not-a-number")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLite_Find(t *testing.T) {
	s := openSQLite(t, schematest.RetroGames())
	_, games := seedRetroGames(t, s)
	ctx := context.Background()

	tests := []struct {
		name  string
		query store.Query
		want  []string
	}{
		{"all", store.Query{}, []string{"1", "2", "3"}},
		{"equality", store.Query{Conditions: []store.Condition{{Field: "year", Op: store.OpEqual, Values: []interface{}{int64(1991)}}}}, []string{"1", "2"}},
		{"not equal", store.Query{Conditions: []store.Condition{{Field: "year", Op: store.OpNotEqual, Values: []interface{}{int64(1991)}}}}, []string{"3"}},
		{"contains", store.Query{Conditions: []store.Condition{{Field: "title", Op: store.OpContains, Values: []interface{}{"of r"}}}}, []string{"2"}},
		{"relationship", store.Query{Conditions: []store.Condition{{Field: "system", Op: store.OpEqual, Values: []interface{}{"2"}}}}, []string{"3"}},
		{"in", store.Query{Conditions: []store.Condition{{Field: "id", Op: store.OpIn, Values: []interface{}{"1", "3"}}}}, []string{"1", "3"}},
		{"sorted", store.Query{Order: []store.Order{{Field: "year", Desc: true}, {Field: "title"}}}, []string{"3", "1", "2"}},
		{"window", store.Query{Offset: 1, Limit: 5}, []string{"2", "3"}},
		{"offset only", store.Query{Offset: 2}, []string{"3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Find(ctx, games, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, recordIDs(got))
		})
	}

	n, err := s.Count(ctx, games, []store.Condition{{Field: "year", Op: store.OpGreaterEqual, Values: []interface{}{int64(1991)}}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLite_RelationshipLookups(t *testing.T) {
	s := openSQLite(t, schematest.RetroGames())
	_, games := seedRetroGames(t, s)
	ctx := context.Background()

	rel, _ := games.Relationship("system")
	found, err := s.FindByForeignKey(ctx, games, rel, []string{"1", "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, recordIDs(found))

	found, err = s.FindByIDs(ctx, games, []string{"3", "x", "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, recordIDs(found))

	found, err = s.FindByIDs(ctx, games, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSQLite_UpdateSetLinksDelete(t *testing.T) {
	s := openSQLite(t, schematest.RetroGames())
	systems, games := seedRetroGames(t, s)
	ctx := context.Background()

	rec, err := s.Update(ctx, games, "1", map[string]interface{}{"year": int64(1990)}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1990), rec.Attributes["year"])

	_, err = s.Update(ctx, games, "99", map[string]interface{}{"year": int64(1990)}, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rel, _ := games.Relationship("system")
	require.NoError(t, s.SetLinks(ctx, games, rel, []string{"1", "2"}, ptr("2")))
	onSNES, err := s.FindByForeignKey(ctx, games, rel, []string{"2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, recordIDs(onSNES))

	require.NoError(t, s.Delete(ctx, systems, "2"))
	assert.ErrorIs(t, s.Delete(ctx, systems, "2"), store.ErrNotFound)

	game, err := s.Get(ctx, games, "3")
	require.NoError(t, err)
	_, linked := game.Link("system")
	assert.False(t, linked)
}

func TestSQLite_ConstraintErrors(t *testing.T) {
	s := openSQLite(t, schematest.RetroGames())
	_, games := seedRetroGames(t, s)
	ctx := context.Background()

	rec := store.NewRecord("games", "")
	rec.Attributes["title"] = nil
	_, err := s.Create(ctx, games, rec)
	var ve *validation.ValidationErrors
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"is required"}, ve.Fields["title"])

	rec = store.NewRecord("games", "1")
	rec.Attributes["title"] = "Duplicate"
	_, err = s.Create(ctx, games, rec)
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	rec = store.NewRecord("games", "")
	rec.Attributes["title"] = "Orphan"
	rec.Links["system"] = ptr("77")
	_, err = s.Create(ctx, games, rec)
	assert.ErrorIs(t, err, store.ErrConstraintViolation)
}

func TestSQLite_TransactionRollback(t *testing.T) {
	s := openSQLite(t, schematest.RetroGames())
	systems, _ := seedRetroGames(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		rec := store.NewRecord("systems", "")
		rec.Attributes["name"] = "Neo Geo"
		if _, err := tx.Create(ctx, systems, rec); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.Count(ctx, systems, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_AttributeTypesRoundTrip(t *testing.T) {
	s := openSQLite(t, schematest.Blog())
	ctx := context.Background()

	authors, err := s.reg.Lookup("authors")
	require.NoError(t, err)
	posts, err := s.reg.Lookup("posts")
	require.NoError(t, err)

	author := store.NewRecord("authors", "")
	author.Attributes["name"] = "Ada"
	author.Attributes["active"] = true
	created, err := s.Create(ctx, authors, author)
	require.NoError(t, err)
	assert.Equal(t, true, created.Attributes["active"])

	published := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	post := store.NewRecord("posts", "")
	post.Attributes["title"] = "Hello"
	post.Attributes["rating"] = 4.5
	post.Attributes["published_at"] = published
	post.Links["author"] = ptr(created.ID)
	createdPost, err := s.Create(ctx, posts, post)
	require.NoError(t, err)

	assert.Equal(t, 4.5, createdPost.Attributes["rating"])
	assert.Nil(t, createdPost.Attributes["body"])
	got, ok := createdPost.Attributes["published_at"].(time.Time)
	require.True(t, ok)
	assert.True(t, published.Equal(got))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_foreign_keys=on", sqliteDSN(""))
	assert.Equal(t, "file:app.db?cache=shared&_foreign_keys=on", sqliteDSN("file:app.db?cache=shared"))
	assert.Equal(t, "app.db?_fk=1", sqliteDSN("app.db?_fk=1"))
}

func TestSQLite_DeleteRequiredReference(t *testing.T) {
	reg := schematest.Blog()
	s := openSQLite(t, reg)
	ctx := context.Background()
	authors, _ := reg.Lookup("authors")
	posts, _ := reg.Lookup("posts")

	author := store.NewRecord("authors", "")
	author.Attributes["name"] = "Ada"
	_, err := s.Create(ctx, authors, author)
	require.NoError(t, err)
	post := store.NewRecord("posts", "")
	post.Attributes["title"] = "Hello"
	post.Links["author"] = ptr("1")
	_, err = s.Create(ctx, posts, post)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, authors, "1"), store.ErrReferenced)
	_, err = s.Get(ctx, authors, "1")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, posts, "1"))
	require.NoError(t, s.Delete(ctx, authors, "1"))
}
