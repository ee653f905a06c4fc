package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/postboard/internal/model"
)

// --- モック定義 ---

type mockWebSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.WebSession, error)
}

func (m *mockWebSessionRepository) FindByID(ctx context.Context, id string) (*model.WebSession, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// loggedInRepo はidに一致するログイン済みセッションを返すモックを生成する。
func loggedInRepo(id, userID string) *mockWebSessionRepository {
	return &mockWebSessionRepository{
		findByIDFn: func(ctx context.Context, got string) (*model.WebSession, error) {
			if got != id {
				return nil, nil
			}
			return &model.WebSession{
				ID:        id,
				Token:     "t1",
				User:      &model.User{ID: userID, Name: "A"},
				ExpiresAt: time.Now().Add(time.Hour),
			}, nil
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsWebSession(t *testing.T) {
	mw := NewSessionMiddleware(loggedInRepo("valid-session-id", "user-123"))

	var capturedUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
	}
}

func TestSessionMiddleware_NoCookie_PassesThroughAnonymous(t *testing.T) {
	mw := NewSessionMiddleware(&mockWebSessionRepository{})

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := WebSessionFromContext(r.Context()); ok {
			t.Error("Cookieなしでセッションが注入されてはならない")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/login", nil))

	if !called {
		t.Error("セッションなしでも次のハンドラーが呼ばれるべき")
	}
}

func TestSessionMiddleware_ExpiredSession_PassesThroughAnonymous(t *testing.T) {
	mw := NewSessionMiddleware(&mockWebSessionRepository{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := WebSessionFromContext(r.Context()); ok {
			t.Error("期限切れセッションが注入されてはならない")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "expired"})
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestSessionMiddleware_RepositoryError_PassesThroughAnonymous(t *testing.T) {
	repo := &mockWebSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.WebSession, error) {
			return nil, errors.New("db down")
		},
	}
	mw := NewSessionMiddleware(repo)

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "s1"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("DBエラー時もセッションなしとして処理を続けるべき")
	}
}

func TestRequireLogin_WithoutSession_Returns401WithRedirect(t *testing.T) {
	handler := RequireLogin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("未ログインでハンドラーが呼ばれてはならない")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/feed", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if body.Redirect != "/" {
		t.Errorf("redirect = %q, want %q", body.Redirect, "/")
	}
	if body.Category != model.CategoryAuth {
		t.Errorf("category = %q, want %q", body.Category, model.CategoryAuth)
	}
}

func TestRequireLogin_AnonymousSession_Returns401(t *testing.T) {
	handler := RequireLogin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("トークンのないセッションでハンドラーが呼ばれてはならない")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req = req.WithContext(ContextWithWebSession(req.Context(), &model.WebSession{ID: "anon"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireLogin_LoggedIn_CallsNext(t *testing.T) {
	called := false
	handler := RequireLogin()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req = req.WithContext(ContextWithWebSession(req.Context(), &model.WebSession{
		ID: "s1", Token: "t1", User: &model.User{ID: "u1"},
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("ログイン済みなら次のハンドラーが呼ばれるべき")
	}
}

func TestUserIDFromContext_EmptyContext_ReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context, got nil")
	}
}
