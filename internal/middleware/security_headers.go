package middleware

import "net/http"

// apiContentSecurityPolicy はJSONのみを返すBFF向けのCSP。
// 画像は投稿APIのURLをフロントエンドが直接読み込むため、ここでは何も許可しない。
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// レスポンスはWebセッションごとに異なるため、共有キャッシュに保存させない。
// hstsがtrueの場合（HTTPS配信時）はStrict-Transport-Securityも付与する。
func NewSecurityHeadersMiddleware(hsts bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("Cache-Control", "no-store")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
