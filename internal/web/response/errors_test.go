package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
)

func TestErrorDocument(t *testing.T) {
	err := apierr.List{
		apierr.ValidationFailed("/data/attributes/title", "is required"),
		apierr.InvalidParameter("page[size]", "must be a positive integer"),
	}

	doc, status := ErrorDocument(err)
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, doc.Errors, 2)

	assert.Equal(t, &ErrorObject{
		Status: "422",
		Code:   "validation_failed",
		Title:  "Validation failed",
		Detail: "is required",
		Source: &ErrorSource{Pointer: "/data/attributes/title"},
	}, doc.Errors[0])
	assert.Equal(t, "400", doc.Errors[1].Status)
	assert.Equal(t, "page[size]", doc.Errors[1].Source.Parameter)
	assert.Nil(t, doc.Data)
}

func TestErrorDocument_NotFoundHasNoSource(t *testing.T) {
	doc, status := ErrorDocument(apierr.NotFound("games", "42"))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Nil(t, doc.Errors[0].Source)
	assert.Equal(t, `games with id "42" does not exist`, doc.Errors[0].Detail)
}

func TestRenderError(t *testing.T) {
	t.Run("hides unexpected errors", func(t *testing.T) {
		w := httptest.NewRecorder()
		status := RenderError(w, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, JSONAPIMediaType, w.Header().Get("Content-Type"))
		assert.NotContains(t, w.Body.String(), "connection refused")
		assert.JSONEq(t, `{
			"jsonapi": {"version": "1.0"},
			"errors": [{
				"status": "500",
				"code": "internal_error",
				"title": "Internal server error",
				"detail": "An unexpected error occurred"
			}]
		}`, w.Body.String())
	})

	t.Run("id mismatch", func(t *testing.T) {
		w := httptest.NewRecorder()
		RenderError(w, apierr.IDMismatch("1", "2"))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.JSONEq(t, `{
			"jsonapi": {"version": "1.0"},
			"errors": [{
				"status": "409",
				"code": "id_mismatch",
				"title": "Id mismatch",
				"detail": "document id \"2\" does not match URL id \"1\"",
				"source": {"pointer": "/data/id"}
			}]
		}`, w.Body.String())
	})
}

func TestRenderMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	RenderMethodNotAllowed(w, http.MethodPut, []string{http.MethodGet, http.MethodPatch, http.MethodDelete})

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, PATCH, DELETE", w.Header().Get("Allow"))
	assert.Contains(t, w.Body.String(), `"method_not_allowed"`)
}

func TestRenderTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()
	RenderTooManyRequests(w, 30)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"429"`)
}

func TestRenderNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	RenderNotFound(w, "/consoles")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `no route matches \"/consoles\"`)
}
