package middleware

import (
	"net/http"
	"strings"
)

// CORS answers preflight requests and sets Access-Control headers for allowed
// origins. "*" allows any origin; entries may omit the scheme.
func CORS(allowed []string) func(next http.Handler) http.Handler {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}

	permitted := func(origin string) bool {
		if allowAll {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		if _, host, found := strings.Cut(origin, "://"); found {
			_, ok := set[host]
			return ok
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && permitted(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
