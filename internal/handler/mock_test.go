package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/security"
)

// --- モック定義 ---

// mockAPI はcontroller.APIのモック実装。未設定の操作は500エラーを返す。
type mockAPI struct {
	loginFn         func(ctx context.Context, email, password string) (*model.Session, error)
	signUpFn        func(ctx context.Context, in gateway.SignUpInput) error
	listPostsFn     func(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error)
	listUserPostsFn func(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error)
	createPostFn    func(ctx context.Context, cred gateway.Credentials, in gateway.PostInput) (*model.Post, error)
	updatePostFn    func(ctx context.Context, cred gateway.Credentials, id string, in gateway.PostInput) (*model.Post, error)
	deletePostFn    func(ctx context.Context, cred gateway.Credentials, id string) error
	toggleLikeFn    func(ctx context.Context, cred gateway.Credentials, id string) ([]string, error)
	addCommentFn    func(ctx context.Context, cred gateway.Credentials, id, text string) (*model.Comment, error)
}

func (m *mockAPI) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, model.NewServerError(http.StatusInternalServerError, "")
}

func (m *mockAPI) SignUp(ctx context.Context, in gateway.SignUpInput) error {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, in)
	}
	return model.NewServerError(http.StatusInternalServerError, "")
}

func (m *mockAPI) ListPosts(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
	if m.listPostsFn != nil {
		return m.listPostsFn(ctx, cred)
	}
	return nil, model.NewServerError(http.StatusInternalServerError, "")
}

func (m *mockAPI) ListUserPosts(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
	if m.listUserPostsFn != nil {
		return m.listUserPostsFn(ctx, cred)
	}
	return nil, model.NewServerError(http.StatusInternalServerError, "")
}

func (m *mockAPI) CreatePost(ctx context.Context, cred gateway.Credentials, in gateway.PostInput) (*model.Post, error) {
	if m.createPostFn != nil {
		return m.createPostFn(ctx, cred, in)
	}
	return nil, model.NewServerError(http.StatusInternalServerError, "")
}

func (m *mockAPI) UpdatePost(ctx context.Context, cred gateway.Credentials, id string, in gateway.PostInput) (*model.Post, error) {
	if m.updatePostFn != nil {
		return m.updatePostFn(ctx, cred, id, in)
	}
	return nil, model.NewServerError(http.StatusInternalServerError, "")
}

func (m *mockAPI) DeletePost(ctx context.Context, cred gateway.Credentials, id string) error {
	if m.deletePostFn != nil {
		return m.deletePostFn(ctx, cred, id)
	}
	return model.NewServerError(http.StatusInternalServerError, "")
}

func (m *mockAPI) ToggleLike(ctx context.Context, cred gateway.Credentials, id string) ([]string, error) {
	if m.toggleLikeFn != nil {
		return m.toggleLikeFn(ctx, cred, id)
	}
	return nil, model.NewServerError(http.StatusInternalServerError, "")
}

func (m *mockAPI) AddComment(ctx context.Context, cred gateway.Credentials, id, text string) (*model.Comment, error) {
	if m.addCommentFn != nil {
		return m.addCommentFn(ctx, cred, id, text)
	}
	return nil, model.NewServerError(http.StatusInternalServerError, "")
}

// memWebSessionRepo はWebSessionRepositoryのインメモリ実装。
type memWebSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.WebSession
	deleted  []string
}

var _ repository.WebSessionRepository = (*memWebSessionRepo)(nil)

func newMemWebSessionRepo() *memWebSessionRepo {
	return &memWebSessionRepo{sessions: make(map[string]*model.WebSession)}
}

func (m *memWebSessionRepo) Create(ctx context.Context, ws *model.WebSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ws
	m.sessions[ws.ID] = &cp
	return nil
}

func (m *memWebSessionRepo) FindByID(ctx context.Context, id string) (*model.WebSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.sessions[id]
	if !ok || !ws.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	cp := *ws
	return &cp, nil
}

func (m *memWebSessionRepo) SaveLogin(ctx context.Context, id, token string, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.sessions[id]
	if !ok {
		return repository.ErrWebSessionNotFound
	}
	u := *user
	ws.Token, ws.User = token, &u
	return nil
}

func (m *memWebSessionRepo) ClearLogin(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.sessions[id]; ok {
		ws.Token, ws.User = "", nil
	}
	return nil
}

func (m *memWebSessionRepo) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.sessions[id]; ok {
		ws.ExpiresAt = expiresAt
	}
	return nil
}

func (m *memWebSessionRepo) DeleteByID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memWebSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ws := range m.sessions {
		if !ws.ExpiresAt.After(time.Now()) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memWebSessionRepo) get(id string) (*model.WebSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *ws
	return &cp, true
}

// --- テストヘルパー ---

var testUser = &model.User{ID: "u1", Name: "Alice", Email: "alice@example.com"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func testSanitizer() *security.PostSanitizer {
	return security.NewPostSanitizer(security.NewEgressGuard())
}

func newTestViews(api *mockAPI, repo *memWebSessionRepo) *ViewRegistry {
	return NewViewRegistry(api, repo, discardLogger(), nil)
}

// seedLoggedIn はログイン済みのWebセッションを登録して返す。
func seedLoggedIn(repo *memWebSessionRepo, id string) *model.WebSession {
	ws := &model.WebSession{
		ID:        id,
		Token:     "t1",
		User:      testUser,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	repo.Create(context.Background(), ws)
	return ws
}

// seedAnonymous はログイン前の匿名Webセッションを登録して返す。
func seedAnonymous(repo *memWebSessionRepo, id string) *model.WebSession {
	ws := &model.WebSession{ID: id, ExpiresAt: time.Now().Add(time.Hour)}
	repo.Create(context.Background(), ws)
	return ws
}

// withWebSession はテスト用にリクエストコンテキストにWebセッションを注入するヘルパー。
func withWebSession(r *http.Request, ws *model.WebSession) *http.Request {
	return r.WithContext(middleware.ContextWithWebSession(r.Context(), ws))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// jsonRequest はJSONボディ付きのリクエストを生成する。
func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseAPIErrorResponse はレスポンスボディから統一エラーレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func samplePost(id, authorID string, likes ...string) *model.Post {
	return &model.Post{
		ID:          id,
		Author:      model.AuthorRef{ID: authorID, Name: "Alice"},
		Title:       "Title " + id,
		Description: "Body of post " + id,
		Likes:       likes,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Version:     1,
	}
}
