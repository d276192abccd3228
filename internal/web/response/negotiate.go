package response

import (
	"mime"
	"net/http"
	"strings"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
)

// CheckContentType verifies that a request body is declared as a JSON:API document.
// Media type parameters are not allowed.
func CheckContentType(r *http.Request) *apierr.Error {
	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if contentType == JSONAPIMediaType {
		return nil
	}
	if contentType == "" {
		return apierr.New(apierr.KindUnsupportedMediaType, "request documents must be sent as %s", JSONAPIMediaType)
	}
	return apierr.New(apierr.KindUnsupportedMediaType, "media type %q is not supported, use %s without parameters", contentType, JSONAPIMediaType)
}

// CheckAccept fails when the Accept header lists the JSON:API media type only with
// media type parameters. Clients that do not ask for JSON:API explicitly are served.
func CheckAccept(r *http.Request) *apierr.Error {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return nil
	}

	listed := false
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil || mediaType != JSONAPIMediaType {
			continue
		}
		listed = true
		delete(params, "q")
		if len(params) == 0 {
			return nil
		}
	}
	if listed {
		return apierr.New(apierr.KindNotAcceptable, "%s is only accepted without media type parameters", JSONAPIMediaType)
	}
	return nil
}

// HasBody reports whether a request carries a body that needs a content type
func HasBody(r *http.Request) bool {
	return r.ContentLength > 0 || (r.ContentLength < 0 && r.Body != nil && r.Body != http.NoBody)
}
