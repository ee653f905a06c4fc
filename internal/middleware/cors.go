package middleware

import (
	"net/http"
	"strings"
)

const corsAllowedMethods = "GET, POST, PATCH, DELETE, OPTIONS"

// NewCORSMiddleware は許可したオリジンに対するCORSミドルウェアを返す。
// allowedOriginsはカンマ区切りで複数指定できる。
// credentials送信と共存するため、ワイルドカード(*)は使わず一致したOriginをそのまま返す。
// 許可外のOriginからのプリフライトは403、それ以外のOPTIONSは204で応答する。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	allowed := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			permitted := origin != "" && allowed[origin]
			if permitted {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+csrfHeaderName)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				if origin != "" && !permitted {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func parseOrigins(s string) map[string]bool {
	origins := make(map[string]bool)
	for _, o := range strings.Split(s, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			origins[o] = true
		}
	}
	return origins
}
