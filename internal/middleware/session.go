// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/postboard/internal/model"
)

// SessionCookieName はWebセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// LoginRedirect は未ログイン時にクライアントを誘導する先。
const LoginRedirect = "/"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// webSessionContextKey はリクエストコンテキストにWebセッションを格納するためのキー。
var webSessionContextKey = contextKey("web_session")

// WebSessionFinder はWebセッションの検索に必要なインターフェース。
// repository.WebSessionRepositoryの部分集合として定義する。
type WebSessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.WebSession, error)
}

// NewSessionMiddleware はHTTP Only CookieからWebセッションを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない・期限切れのリクエストはセッションなしのまま通過させる。
// ログイン必須のルートにはRequireLoginを重ねること。
func NewSessionMiddleware(finder WebSessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			ws, err := finder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find web session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if ws == nil {
				next.ServeHTTP(w, r)
				return
			}

			if ws.Authenticated() {
				annotateUser(r.Context(), ws.User.ID)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithWebSession(r.Context(), ws)))
		})
	}
}

// RequireLogin はリモートAPIのトークンを持つWebセッションを必須とするミドルウェアを返す。
// 未ログインのリクエストには401と "redirect": "/" を返す。
func RequireLogin() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, ok := WebSessionFromContext(r.Context())
			if !ok || !ws.Authenticated() {
				WriteRedirectError(w, http.StatusUnauthorized, model.NewNoSessionError(), LoginRedirect)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WebSessionFromContext はリクエストコンテキストからWebセッションを取得する。
func WebSessionFromContext(ctx context.Context) (*model.WebSession, bool) {
	ws, ok := ctx.Value(webSessionContextKey).(*model.WebSession)
	return ws, ok && ws != nil
}

// ContextWithWebSession はコンテキストにWebセッションを注入する。
// ログイン直後のハンドラーやテストで使用する。
func ContextWithWebSession(ctx context.Context, ws *model.WebSession) context.Context {
	return context.WithValue(ctx, webSessionContextKey, ws)
}

// UserIDFromContext はログイン済みWebセッションのユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	ws, ok := WebSessionFromContext(ctx)
	if !ok || !ws.Authenticated() || ws.User.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return ws.User.ID, nil
}
