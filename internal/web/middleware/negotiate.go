package middleware

import (
	"net/http"

	"github.com/conduit-lang/jsonapi-server/internal/web/response"
)

// ContentNegotiation enforces the JSON:API media type rules. Requests with a body
// must declare it as application/vnd.api+json without parameters (415 otherwise), and
// an Accept header naming the media type only with parameters is answered with 406.
func ContentNegotiation() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := response.CheckAccept(r); err != nil {
				response.RenderError(w, err)
				return
			}
			if response.HasBody(r) {
				if err := response.CheckContentType(r); err != nil {
					response.RenderError(w, err)
					return
				}
			}
			w.Header().Add("Vary", "Accept")
			next.ServeHTTP(w, r)
		})
	}
}
