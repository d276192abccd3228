package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema/schematest"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
)

func ptr(s string) *string { return &s }

type fixture struct {
	store   *Store
	systems *schema.ResourceType
	games   *schema.ResourceType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := schematest.RetroGames()
	systems, err := reg.Lookup("systems")
	require.NoError(t, err)
	games, err := reg.Lookup("games")
	require.NoError(t, err)

	f := &fixture{store: New(reg), systems: systems, games: games}
	ctx := context.Background()

	for _, name := range []string{"Mega Drive", "Super Nintendo"} {
		rec := store.NewRecord("systems", "")
		rec.Attributes["name"] = name
		_, err := f.store.Create(ctx, systems, rec)
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
		_, err := f.store.Create(ctx, games, rec)
		require.NoError(t, err)
	}
	return f
}

func ids(records []*store.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestStore_CreateAssignsSequentialIDs(t *testing.T) {
	f := newFixture(t)
	all, err := f.store.Find(context.Background(), f.games, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids(all))

	system, ok := all[2].Link("system")
	require.True(t, ok)
	assert.Equal(t, "2", system)
}

func TestStore_CreateIDTypes(t *testing.T) {
	ctx := context.Background()
	tokens := schema.NewType("tokens").IDs(schema.IDUUID).Attr("label", schema.String).MustBuild()
	slugs := schema.NewType("slugs").IDs(schema.IDString).MustBuild()
	s := New(schema.NewRegistry().MustRegister(tokens, slugs))

	rec, err := s.Create(ctx, tokens, store.NewRecord("tokens", ""))
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)

	_, err = s.Create(ctx, slugs, store.NewRecord("slugs", ""))
	assert.ErrorIs(t, err, store.ErrMissingID)

	_, err = s.Create(ctx, slugs, store.NewRecord("slugs", "hello"))
	require.NoError(t, err)
	_, err = s.Create(ctx, slugs, store.NewRecord("slugs", "hello"))
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
}

func TestStore_Find(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query store.Query
		want  []string
	}{
		{
			name:  "equality on attribute",
			query: store.Query{Conditions: []store.Condition{{Field: "year", Op: store.OpEqual, Values: []interface{}{int64(1991)}}}},
			want:  []string{"1", "2"},
		},
		{
			name:  "range",
			query: store.Query{Conditions: []store.Condition{{Field: "year", Op: store.OpGreaterThan, Values: []interface{}{int64(1991)}}}},
			want:  []string{"3"},
		},
		{
			name:  "contains is case insensitive",
			query: store.Query{Conditions: []store.Condition{{Field: "title", Op: store.OpContains, Values: []interface{}{"SUPER"}}}},
			want:  []string{"3"},
		},
		{
			name:  "to-one relationship",
			query: store.Query{Conditions: []store.Condition{{Field: "system", Op: store.OpEqual, Values: []interface{}{"1"}}}},
			want:  []string{"1", "2"},
		},
		{
			name:  "in on id",
			query: store.Query{Conditions: []store.Condition{{Field: "id", Op: store.OpIn, Values: []interface{}{"3", "1"}}}},
			want:  []string{"1", "3"},
		},
		{
			name:  "sort descending with id tiebreak",
			query: store.Query{Order: []store.Order{{Field: "year", Desc: true}}},
			want:  []string{"3", "1", "2"},
		},
		{
			name:  "sort by title",
			query: store.Query{Order: []store.Order{{Field: "title"}}},
			want:  []string{"1", "2", "3"},
		},
		{
			name:  "window",
			query: store.Query{Offset: 1, Limit: 1},
			want:  []string{"2"},
		},
		{
			name:  "offset past the end",
			query: store.Query{Offset: 10},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.store.Find(ctx, f.games, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	n, err := f.store.Count(ctx, f.games, []store.Condition{{Field: "year", Op: store.OpLessEqual, Values: []interface{}{int64(1991)}}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_Lookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Get(ctx, f.games, "2")
	require.NoError(t, err)
	assert.Equal(t, "Streets of Rage", rec.Attributes["title"])

	_, err = f.store.Get(ctx, f.games, "99")
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err := f.store.FindByIDs(ctx, f.games, []string{"3", "99", "1", "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids(found))

	rel, _ := f.games.Relationship("system")
	byFK, err := f.store.FindByForeignKey(ctx, f.games, rel, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(byFK))
}

func TestStore_ReturnedRecordsAreCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Get(ctx, f.games, "1")
	require.NoError(t, err)
	rec.Attributes["title"] = "changed"

	again, err := f.store.Get(ctx, f.games, "1")
	require.NoError(t, err)
	assert.Equal(t, "Sonic the Hedgehog", again.Attributes["title"])
}

func TestStore_UpdateAndSetLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Update(ctx, f.games, "1", map[string]interface{}{"year": int64(1992)}, map[string]*string{"system": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(1992), rec.Attributes["year"])
	_, linked := rec.Link("system")
	assert.False(t, linked)

	_, err = f.store.Update(ctx, f.games, "99", nil, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rel, _ := f.games.Relationship("system")
	require.NoError(t, f.store.SetLinks(ctx, f.games, rel, []string{"1", "3"}, ptr("2")))
	byFK, err := f.store.FindByForeignKey(ctx, f.games, rel, []string{"2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids(byFK))
}

func TestStore_DeleteClearsReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Delete(ctx, f.systems, "1"))
	assert.ErrorIs(t, f.store.Delete(ctx, f.systems, "1"), store.ErrNotFound)

	game, err := f.store.Get(ctx, f.games, "1")
	require.NoError(t, err)
	_, linked := game.Link("system")
	assert.False(t, linked)
}

func TestStore_DeleteKeepsRequiredReferences(t *testing.T) {
	reg := schematest.Blog()
	s := New(reg)
	ctx := context.Background()
	authors, _ := reg.Lookup("authors")
	posts, _ := reg.Lookup("posts")
	comments, _ := reg.Lookup("comments")

	author := store.NewRecord("authors", "")
	author.Attributes["name"] = "Ada"
	_, err := s.Create(ctx, authors, author)
	require.NoError(t, err)
	post := store.NewRecord("posts", "")
	post.Attributes["title"] = "Hello"
	post.Links["author"] = ptr("1")
	_, err = s.Create(ctx, posts, post)
	require.NoError(t, err)
	comment := store.NewRecord("comments", "")
	comment.Attributes["body"] = "First"
	comment.Links["post"] = ptr("1")
	comment.Links["author"] = ptr("1")
	_, err = s.Create(ctx, comments, comment)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, authors, "1"), store.ErrReferenced)
	_, err = s.Get(ctx, authors, "1")
	require.NoError(t, err, "a rejected delete keeps the record")
	kept, err := s.Get(ctx, comments, "1")
	require.NoError(t, err)
	_, linked := kept.Link("author")
	assert.True(t, linked, "a rejected delete clears no links")

	require.NoError(t, s.Delete(ctx, posts, "1"))
	require.NoError(t, s.Delete(ctx, authors, "1"))
	kept, err = s.Get(ctx, comments, "1")
	require.NoError(t, err)
	_, linked = kept.Link("author")
	assert.False(t, linked)
}

func TestStore_IntegerIDsAreCanonical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := store.NewRecord("games", "07")
	rec.Attributes["title"] = "Gunstar Heroes"
	rec.Links["system"] = ptr("01")
	created, err := f.store.Create(ctx, f.games, rec)
	require.NoError(t, err)
	assert.Equal(t, "7", created.ID)

	for _, id := range []string{"7", "07"} {
		got, err := f.store.Get(ctx, f.games, id)
		require.NoError(t, err, id)
		assert.Equal(t, "7", got.ID)
	}

	system, _ := f.games.Relationship("system")
	byFK, err := f.store.FindByForeignKey(ctx, f.games, system, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "7"}, ids(byFK))

	dup := store.NewRecord("games", "7")
	dup.Attributes["title"] = "Gunstar Heroes"
	_, err = f.store.Create(ctx, f.games, dup)
	assert.ErrorIs(t, err, store.ErrUniqueViolation)
}

func TestStore_TransactionRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := f.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		rec := store.NewRecord("systems", "")
		rec.Attributes["name"] = "Neo Geo"
		if _, err := tx.Create(ctx, f.systems, rec); err != nil {
			return err
		}
		n, err := tx.Count(ctx, f.systems, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := f.store.Count(ctx, f.systems, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.store.Find(ctx, f.games, store.Query{})
	assert.ErrorIs(t, err, context.Canceled)

	err = f.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		t.Fatal("transaction should not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rec := store.NewRecord("systems", "")
			rec.Attributes["name"] = "Saturn"
			_, err := f.store.Create(ctx, f.systems, rec)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.store.Find(ctx, f.games, store.Query{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := f.store.Count(ctx, f.systems, nil)
	require.NoError(t, err)
	assert.Equal(t, 22, n)
}
