package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema/schematest"
)

// recordingHandlers returns handlers that write the operation they serve
func recordingHandlers() ResourceHandlers {
	h := func(op Operation) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(op.String()))
		}
	}
	return ResourceHandlers{
		List:                   h(OpList),
		Create:                 h(OpCreate),
		Show:                   h(OpShow),
		Update:                 h(OpUpdate),
		Delete:                 h(OpDelete),
		Related:                h(OpRelated),
		Relationship:           h(OpRelationship),
		ReplaceRelationship:    h(OpReplaceRelationship),
		AddToRelationship:      h(OpAddToRelationship),
		RemoveFromRelationship: h(OpRemoveFromRelationship),
	}
}

func TestNewResourceDefinition(t *testing.T) {
	def := NewResourceDefinition(schematest.Games())

	assert.Equal(t, "games", def.Name)
	assert.Equal(t, "/games", def.BasePath)
	assert.Equal(t, "id", def.IDParamName)
	assert.Equal(t, "integer", def.IDType)
	assert.Equal(t, AllOperations, def.Operations)

	uuidType := schema.NewType("tokens").IDs(schema.IDUUID).MustBuild()
	assert.Equal(t, "uuid", NewResourceDefinition(uuidType).IDType)
}

func TestResourceHandlersValidate(t *testing.T) {
	handlers := recordingHandlers()
	assert.NoError(t, handlers.Validate(AllOperations))

	handlers.AddToRelationship = nil
	assert.NoError(t, handlers.Validate([]Operation{OpList, OpShow}))
	err := handlers.Validate(AllOperations)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add_to_relationship")
}

func TestRegisterResource(t *testing.T) {
	router := NewRouter("/api")
	require.NoError(t, router.RegisterResource(NewResourceDefinition(schematest.Games()), recordingHandlers()))

	tests := []struct {
		method   string
		path     string
		expected string
	}{
		{http.MethodGet, "/api/games", "list"},
		{http.MethodPost, "/api/games", "create"},
		{http.MethodGet, "/api/games/1", "show"},
		{http.MethodPatch, "/api/games/1", "update"},
		{http.MethodDelete, "/api/games/1", "delete"},
		{http.MethodGet, "/api/games/1/system", "related"},
		{http.MethodGet, "/api/games/1/relationships/system", "relationship"},
		{http.MethodPatch, "/api/games/1/relationships/system", "replace_relationship"},
		{http.MethodPost, "/api/games/1/relationships/system", "add_to_relationship"},
		{http.MethodDelete, "/api/games/1/relationships/system", "remove_from_relationship"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.expected, w.Body.String())
		})
	}

	assert.Len(t, router.GetRoutes(), len(AllOperations))
}

func TestRegisterResourcePartialOperations(t *testing.T) {
	router := NewRouter("")
	def := NewResourceDefinition(schematest.Systems())
	def.Operations = []Operation{OpList, OpShow}

	require.NoError(t, router.RegisterResource(def, ResourceHandlers{
		List: recordingHandlers().List,
		Show: recordingHandlers().Show,
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/systems", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET", w.Header().Get("Allow"))
}

func TestRegisterResourceInvalidHandlers(t *testing.T) {
	router := NewRouter("")
	err := router.RegisterResource(NewResourceDefinition(schematest.Games()), ResourceHandlers{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid handlers")
	assert.Empty(t, router.GetRoutes())
}

func TestRegisterResourceWithMetadata(t *testing.T) {
	router := NewRouter("")
	def := NewResourceDefinition(schematest.Games())
	require.NoError(t, router.RegisterResource(def, recordingHandlers()))

	infos := router.RouteListJSON()
	require.Len(t, infos, len(AllOperations))

	show := infos[2]
	assert.Equal(t, "games.show", show.Name)
	assert.Equal(t, "games", show.ResourceName)
	assert.Equal(t, "show", show.Operation)
	assert.Equal(t, []RouteParameter{{Name: "id", Type: "integer", Required: true, Source: PathParam}}, show.Parameters)

	linkage := infos[6]
	assert.Equal(t, "/games/{id}/relationships/{relationship}", linkage.Pattern)
	assert.Len(t, linkage.Parameters, 2)
}
