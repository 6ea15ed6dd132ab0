package api

import (
	"net/http"
	"regexp"
	"slices"
)

var localhostOrigin = regexp.MustCompile(`^http://localhost:\d+$`)

// corsPolicy answers cross-origin requests from the chat frontend.
type corsPolicy struct {
	development bool
	origins     []string
}

func newCORSPolicy(development bool, origins []string) *corsPolicy {
	return &corsPolicy{development: development, origins: origins}
}

func (p *corsPolicy) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if p.development {
		return localhostOrigin.MatchString(origin)
	}
	return slices.Contains(p.origins, origin)
}

// wrap sets CORS headers for allowed origins and answers preflight
// requests itself.
func (p *corsPolicy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if p.allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
					h.Set("Access-Control-Allow-Headers", req)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
