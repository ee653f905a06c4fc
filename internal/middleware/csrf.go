package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/postboard/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	// フロントエンドからJavaScriptで読み取れるよう、HttpOnlyではない。
	csrfCookieName = "csrf_token"

	// csrfHeaderName はリクエストヘッダーからCSRFトークンを読み取る際のヘッダー名。
	csrfHeaderName = "X-CSRF-Token"
)

// defaultCSRFMaxAge はCSRFトークンCookieの既定の有効期間（秒）。
const defaultCSRFMaxAge = 86400

// CSRFConfig はCSRFミドルウェアの設定。
// MaxAgeはWebセッションの有効期間に合わせる。0なら24時間。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int
}

func (c CSRFConfig) maxAge() int {
	if c.MaxAge > 0 {
		return c.MaxAge
	}
	return defaultCSRFMaxAge
}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF検証ミドルウェアを返す。
// GET・HEAD・OPTIONSは検証せず、トークンCookieがなければ発行する。
// それ以外のメソッドはCookieとX-CSRF-Tokenヘッダーの一致を必須とする。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				ensureCSRFCookie(w, r, config)
				next.ServeHTTP(w, r)
				return
			}

			if reason := checkCSRFToken(r); reason != "" {
				slog.Warn("CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				writeCSRFFailure(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// checkCSRFToken は検証に失敗した理由を返す。成功時は空文字列。
func checkCSRFToken(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return "missing_cookie"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "missing_header"
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return "mismatch"
	}
	return ""
}

// NewCSRFTokenHandler は GET /api/csrf-token のハンドラーを返す。
// 既存のトークンCookieがあればその値を、なければ新規発行した値を {"token": ...} で返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if cookie, err := r.Cookie(csrfCookieName); err == nil {
			token = cookie.Value
		}
		if token == "" {
			var err error
			if token, err = RotateCSRFToken(w, config); err != nil {
				slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
}

// RotateCSRFToken は新しいCSRFトークンを発行してCookieを置き換え、そのトークンを返す。
// ログイン・ログアウトでWebセッションが切り替わる際に呼び、
// 切り替え前に漏れたトークンを使えなくする。
func RotateCSRFToken(w http.ResponseWriter, config CSRFConfig) (string, error) {
	token, err := generateCSRFToken()
	if err != nil {
		return "", err
	}
	setCSRFCookie(w, token, config)
	return token, nil
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ensureCSRFCookie はトークンCookieが未設定の場合だけ発行する。
func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, config CSRFConfig) {
	if _, err := r.Cookie(csrfCookieName); err == nil {
		return
	}
	if _, err := RotateCSRFToken(w, config); err != nil {
		slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
	}
}

func setCSRFCookie(w http.ResponseWriter, token string, config CSRFConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   config.maxAge(),
		HttpOnly: false,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeCSRFFailure はCSRF検証失敗の403レスポンスを統一フォーマットで書き込む。
func writeCSRFFailure(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
		Code:     "CSRF_VALIDATION_FAILED",
		Message:  "CSRF token validation failed.",
		Category: model.CategoryAuth,
		Action:   "Reload the page and try again.",
		Status:   http.StatusForbidden,
	})
}

// generateCSRFToken は暗号的に安全なCSRFトークンを生成する。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
