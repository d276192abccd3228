package response

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
)

// ErrorDocument converts any error into an error document and the status to send it
// with. Errors outside the taxonomy render as a generic internal error.
func ErrorDocument(err error) (*Document, int) {
	list := apierr.From(err)
	status := list.Status()

	doc := &Document{
		JSONAPI: jsonAPI10,
		Errors:  make([]*ErrorObject, 0, len(list)),
	}
	for _, e := range list {
		doc.Errors = append(doc.Errors, errorObject(e))
	}
	return doc, status
}

func errorObject(e *apierr.Error) *ErrorObject {
	obj := &ErrorObject{
		Status: strconv.Itoa(e.Status()),
		Code:   e.Kind.String(),
		Title:  e.Title,
		Detail: e.Detail,
	}
	if e.Pointer != "" || e.Parameter != "" {
		obj.Source = &ErrorSource{Pointer: e.Pointer, Parameter: e.Parameter}
	}
	return obj
}

// RenderError renders err as an error document and returns the status it was sent with
func RenderError(w http.ResponseWriter, err error) int {
	doc, status := ErrorDocument(err)
	if renderErr := Render(w, status, doc); renderErr != nil {
		// Only the error document itself failed to encode
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	return status
}

// RenderNotFound renders a 404 error document for a path that matches no route
func RenderNotFound(w http.ResponseWriter, path string) int {
	return RenderError(w, apierr.New(apierr.KindNotFound, "no route matches %q", path))
}

// RenderMethodNotAllowed renders a 405 error document and the Allow header
func RenderMethodNotAllowed(w http.ResponseWriter, method string, allowedMethods []string) int {
	if len(allowedMethods) > 0 {
		w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	}
	return RenderError(w, apierr.New(apierr.KindMethodNotAllowed, "method %s is not allowed", method))
}

// RenderTooManyRequests renders a 429 error document with a Retry-After header
func RenderTooManyRequests(w http.ResponseWriter, retryAfter int) int {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	return RenderError(w, apierr.New(apierr.KindTooManyRequests, "rate limit exceeded, retry in %d seconds", retryAfter))
}
