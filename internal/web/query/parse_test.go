package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema/schematest"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
)

func mustValues(t *testing.T, raw string) url.Values {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	return values
}

func TestParse_Defaults(t *testing.T) {
	d, err := Parse(schematest.RetroGames(), "games", url.Values{}, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "games", d.Type())
	assert.Empty(t, d.Includes())
	assert.False(t, d.HasIncludes())
	assert.Empty(t, d.Filters())
	assert.Empty(t, d.Sort())
	assert.Equal(t, Page{Offset: 0, Limit: 20}, d.Page())
	assert.False(t, d.Paginated())
	assert.False(t, d.RelationshipData())

	_, restricted := d.Fieldset("games")
	assert.False(t, restricted)
	assert.True(t, d.Wants("games", "title"))
}

func TestParse_Everything(t *testing.T) {
	raw := "include=system,system.games&fields[games]=title,system&fields[systems]=name" +
		"&filter[year][gte]=1990&filter[title][contains]=sonic&filter[system]=1" +
		"&sort=-year,title&page[number]=2&page[size]=5&relationship-data=true"

	d, err := Parse(schematest.RetroGames(), "games", mustValues(t, raw), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"system", "system.games"}, d.Includes())
	assert.Equal(t, []Include{{
		Relationship: "system",
		Children:     []Include{{Relationship: "games"}},
	}}, d.IncludeTree())

	fields, ok := d.Fieldset("games")
	require.True(t, ok)
	assert.Equal(t, []string{"title", "system"}, fields)
	assert.False(t, d.Wants("games", "year"))
	assert.True(t, d.Wants("systems", "name"))

	assert.Equal(t, []Filter{
		{Field: "system", Op: store.OpEqual, Values: []interface{}{"1"}},
		{Field: "title", Op: store.OpContains, Values: []interface{}{"sonic"}},
		{Field: "year", Op: store.OpGreaterEqual, Values: []interface{}{int64(1990)}},
	}, d.Filters())

	assert.Equal(t, []SortField{{Field: "year", Desc: true}, {Field: "title"}}, d.Sort())
	assert.Equal(t, Page{Offset: 5, Limit: 5}, d.Page())
	assert.True(t, d.Paginated())
	assert.True(t, d.RelationshipData())

	q := d.Query()
	assert.Len(t, q.Conditions, 3)
	assert.Equal(t, []store.Order{{Field: "year", Desc: true}, {Field: "title"}}, q.Order)
	assert.Equal(t, 5, q.Offset)
	assert.Equal(t, 5, q.Limit)
}

func TestParse_InFilterAndClamping(t *testing.T) {
	d, err := Parse(schematest.RetroGames(), "games", mustValues(t, "filter[id][in]=1,3&page[offset]=10&page[limit]=1000"), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []Filter{{Field: "id", Op: store.OpIn, Values: []interface{}{"1", "3"}}}, d.Filters())
	assert.Equal(t, Page{Offset: 10, Limit: 100}, d.Page())
}

func TestParse_DescriptorIsImmutable(t *testing.T) {
	d, err := Parse(schematest.RetroGames(), "games", mustValues(t, "include=system&fields[games]=title&filter[year]=1991"), DefaultOptions())
	require.NoError(t, err)

	includes := d.Includes()
	includes[0] = "changed"
	fields, _ := d.Fieldset("games")
	fields[0] = "changed"
	filters := d.Filters()
	filters[0].Values[0] = "changed"

	assert.Equal(t, []string{"system"}, d.Includes())
	assert.True(t, d.Wants("games", "title"))
	assert.Equal(t, int64(1991), d.Filters()[0].Values[0])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		kind      apierr.Kind
		parameter string
	}{
		{"unknown fieldset type", "fields[consoles]=name", apierr.KindUnknownType, "fields[consoles]"},
		{"unknown fieldset field", "fields[games]=rating", apierr.KindUnknownField, "fields[games]"},
		{"unknown include", "include=publisher", apierr.KindInvalidIncludePath, "include"},
		{"broken nested include", "include=system.publisher", apierr.KindInvalidIncludePath, "include"},
		{"include too deep", "include=system.games.system.games", apierr.KindInvalidIncludePath, "include"},
		{"unsupported operator", "filter[year][regex]=19.*", apierr.KindUnsupportedFilter, "filter[year][regex]"},
		{"contains on integer", "filter[year][contains]=19", apierr.KindUnsupportedFilter, "filter[year][contains]"},
		{"unknown filter field", "filter[rating]=5", apierr.KindUnknownField, "filter[rating]"},
		{"bad filter value", "filter[year]=nineteen", apierr.KindInvalidParameter, "filter[year]"},
		{"bad id filter value", "filter[system]=abc", apierr.KindInvalidParameter, "filter[system]"},
		{"unknown sort field", "sort=-rating", apierr.KindUnknownField, "sort"},
		{"sort by relationship", "sort=system", apierr.KindInvalidParameter, "sort"},
		{"negative offset", "page[offset]=-1", apierr.KindInvalidParameter, "page[offset]"},
		{"zero size", "page[size]=0", apierr.KindInvalidParameter, "page[size]"},
		{"page number overflows offset", "page[number]=922337203685477581&page[size]=100", apierr.KindInvalidParameter, "page[number]"},
		{"offset overflows next page", "page[offset]=9223372036854775800", apierr.KindInvalidParameter, "page[offset]"},
		{"mixed pagination", "page[offset]=1&page[size]=2", apierr.KindInvalidParameter, "page"},
		{"unknown page member", "page[cursor]=abc", apierr.KindInvalidParameter, "page[cursor]"},
		{"reserved parameter", "search=sonic", apierr.KindInvalidParameter, "search"},
		{"malformed family", "filter=sonic", apierr.KindInvalidParameter, "filter"},
		{"bad flag", "relationship-data=maybe", apierr.KindInvalidParameter, "relationship-data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(schematest.RetroGames(), "games", mustValues(t, tt.raw), DefaultOptions())
			require.Error(t, err)

			list := apierr.From(err)
			require.Len(t, list, 1, "errors: %v", list)
			assert.Equal(t, tt.kind, list[0].Kind)
			assert.Equal(t, tt.parameter, list[0].Parameter)
		})
	}
}

func TestParse_CollectsIndependentErrors(t *testing.T) {
	raw := "fields[games]=rating&include=publisher&filter[year][regex]=1&sort=color"
	_, err := Parse(schematest.RetroGames(), "games", mustValues(t, raw), DefaultOptions())
	require.Error(t, err)

	list := apierr.From(err)
	assert.Len(t, list, 4)
	assert.Equal(t, 400, list.Status())
}

func TestParse_ImplementationParametersAllowed(t *testing.T) {
	_, err := Parse(schematest.RetroGames(), "games", mustValues(t, "cacheBust=1&_=2"), DefaultOptions())
	assert.NoError(t, err)
}

func TestParse_UnknownType(t *testing.T) {
	_, err := Parse(schematest.RetroGames(), "consoles", url.Values{}, DefaultOptions())
	assert.True(t, apierr.IsKind(err, apierr.KindUnknownType))
}

func TestParse_RelationshipDataDefault(t *testing.T) {
	opts := DefaultOptions()
	opts.RelationshipData = true

	d, err := Parse(schematest.RetroGames(), "games", url.Values{}, opts)
	require.NoError(t, err)
	assert.True(t, d.RelationshipData())

	d, err = Parse(schematest.RetroGames(), "games", mustValues(t, "relationship-data=false"), opts)
	require.NoError(t, err)
	assert.False(t, d.RelationshipData())
}
