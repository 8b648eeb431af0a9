package middleware

import (
	"net/http"
	"strings"
)

// CORS - middleware Cross-Origin Resource Sharing
//
// origins - список через запятую (CORS_ALLOWED_ORIGINS). Пустой список или
// "*" разрешает любой origin без credentials. Для неразрешённых origins
// заголовки не ставятся, и браузер блокирует ответ.
func CORS(origins string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	allowAll := false

	origins = strings.TrimSpace(origins)
	if origins == "" || origins == "*" {
		allowAll = true
	} else {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowed[o] = struct{}{}
			}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
