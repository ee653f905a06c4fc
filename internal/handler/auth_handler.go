package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/postboard/internal/controller"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/validation"
)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure  bool
	CookieDomain  string
	SessionMaxAge int
}

// AuthHandler はログイン・新規登録・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	viewHandler
	repo   repository.WebSessionRepository
	config AuthHandlerConfig
	now    func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(views *ViewRegistry, repo repository.WebSessionRepository, config AuthHandlerConfig) *AuthHandler {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = 86400
	}
	return &AuthHandler{
		viewHandler: viewHandler{views: views},
		repo:        repo,
		config:      config,
		now:         time.Now,
	}
}

// sessionResponse はログイン状態のAPIレスポンス。
// CSRFTokenはログイン・ログアウトで再発行した場合のみ含める。
type sessionResponse struct {
	User      *userResponse       `json:"user,omitempty"`
	Greeting  string              `json:"greeting,omitempty"`
	Redirect  string              `json:"redirect,omitempty"`
	CSRFToken string              `json:"csrf_token,omitempty"`
	Notices   []controller.Notice `json:"notices"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	values, _, err := readForm(w, r)
	if err != nil {
		writeInvalidRequest(w, err)
		return
	}

	ws, vs, err := h.loginWebSession(w, r)
	if err != nil {
		slog.Error("failed to prepare web session for login", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	vs.Login.SetField(validation.FieldEmail, values[validation.FieldEmail])
	vs.Login.SetField(validation.FieldPassword, values[validation.FieldPassword])
	res := vs.Login.Submit(r.Context())
	notices := vs.Notices.Drain()
	if !res.OK() {
		writeResultError(w, res, notices)
		return
	}

	// ログインのたびに有効期限を延長する
	expiresAt := h.now().Add(time.Duration(h.config.SessionMaxAge) * time.Second)
	if err := h.repo.Touch(r.Context(), ws.ID, expiresAt); err != nil {
		slog.Warn("failed to extend web session", slog.String("error", err.Error()))
	}

	user := vs.Store.User()
	writeJSON(w, http.StatusOK, sessionResponse{
		User:      toUserResponse(user),
		Greeting:  controller.Greeting(user),
		Redirect:  res.Redirect,
		CSRFToken: h.rotateCSRFToken(w),
		Notices:   notices,
	})
}

// SignUp はアカウントを作成する。成功時はログイン画面へ誘導する。
// POST /api/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	values, upload, err := readForm(w, r)
	if err != nil {
		writeInvalidRequest(w, err)
		return
	}

	ws, err := h.ensureWebSession(w, r)
	if err != nil {
		slog.Error("failed to create web session", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	vs, err := h.views.Get(r.Context(), ws)
	if err != nil {
		slog.Error("failed to prepare view", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	for _, name := range []string{validation.FieldName, validation.FieldEmail, validation.FieldPassword} {
		vs.SignUp.SetField(name, values[name])
	}
	vs.SignUp.SetImage(upload)
	res := vs.SignUp.Submit(r.Context())
	notices := vs.Notices.Drain()
	if !res.OK() {
		writeResultError(w, res, notices)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		Redirect: res.Redirect,
		Notices:  notices,
	})
}

// Logout はセッションを破棄する。送信中の操作の応答は捨てられる。
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var notices []controller.Notice
	if ws, ok := middleware.WebSessionFromContext(r.Context()); ok {
		if vs, err := h.views.Get(r.Context(), ws); err == nil {
			res := controller.Logout(r.Context(), vs.Store, vs.Notices)
			if !res.OK() {
				slog.Error("failed to tear down session", slog.String("error", res.Err.Error()))
			}
			notices = vs.Notices.Drain()
		}
		h.views.Drop(ws.ID)

		// ログアウト失敗してもCookieはクリアする
		if err := h.repo.DeleteByID(r.Context(), ws.ID); err != nil {
			slog.Error("failed to delete web session", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, sessionResponse{
		Redirect:  controller.RouteLogin,
		CSRFToken: h.rotateCSRFToken(w),
		Notices:   notices,
	})
}

// Me は現在のログインユーザーとナビゲーションバーの挨拶文を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	vs, ok := h.viewSet(w, r)
	if !ok {
		return
	}
	user := vs.Store.User()
	if user == nil {
		middleware.WriteRedirectError(w, http.StatusUnauthorized, model.NewNoSessionError(), controller.Landing(vs.Store))
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User:     toUserResponse(user),
		Greeting: controller.Greeting(user),
		Redirect: controller.Landing(vs.Store),
		Notices:  vs.Notices.Drain(),
	})
}

// loginWebSession はログインに使う新しいWebセッションとViewSetを返す。
// リクエストが持っていたセッションIDは引き継がず、ViewSetを新しいIDへ移してから古い行を削除する。
func (h *AuthHandler) loginWebSession(w http.ResponseWriter, r *http.Request) (*model.WebSession, *ViewSet, error) {
	ctx := r.Context()
	ws, err := h.createWebSession(ctx)
	if err != nil {
		return nil, nil, err
	}

	old, ok := middleware.WebSessionFromContext(ctx)
	if !ok {
		vs, err := h.views.Get(ctx, ws)
		if err != nil {
			return nil, nil, err
		}
		h.setSessionCookie(w, ws.ID)
		return ws, vs, nil
	}

	vs, err := h.views.Rekey(ctx, old, ws)
	if err != nil {
		if delErr := h.repo.DeleteByID(ctx, ws.ID); delErr != nil {
			slog.Warn("failed to delete unused web session", slog.String("error", delErr.Error()))
		}
		return nil, nil, err
	}
	if err := h.repo.DeleteByID(ctx, old.ID); err != nil {
		slog.Warn("failed to delete previous web session", slog.String("error", err.Error()))
	}
	h.setSessionCookie(w, ws.ID)
	return ws, vs, nil
}

// ensureWebSession はリクエストのWebセッションを返す。なければ匿名セッションを作りCookieを設定する。
func (h *AuthHandler) ensureWebSession(w http.ResponseWriter, r *http.Request) (*model.WebSession, error) {
	if ws, ok := middleware.WebSessionFromContext(r.Context()); ok {
		return ws, nil
	}
	ws, err := h.createWebSession(r.Context())
	if err != nil {
		return nil, err
	}
	h.setSessionCookie(w, ws.ID)
	return ws, nil
}

func (h *AuthHandler) createWebSession(ctx context.Context) (*model.WebSession, error) {
	now := h.now()
	ws := &model.WebSession{
		ID:        uuid.NewString(),
		ExpiresAt: now.Add(time.Duration(h.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.Create(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to create web session: %w", err)
	}
	return ws, nil
}

// rotateCSRFToken はCSRFトークンを再発行する。失敗してもログイン・ログアウト自体は成功させる。
func (h *AuthHandler) rotateCSRFToken(w http.ResponseWriter) string {
	token, err := middleware.RotateCSRFToken(w, middleware.CSRFConfig{
		CookieSecure: h.config.CookieSecure,
		CookieDomain: h.config.CookieDomain,
		MaxAge:       h.config.SessionMaxAge,
	})
	if err != nil {
		slog.Error("failed to rotate CSRF token", slog.String("error", err.Error()))
		return ""
	}
	return token
}

// setSessionCookie はHTTP Only CookieにWebセッションIDを設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    id,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
