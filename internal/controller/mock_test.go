package controller

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/session"
)

// mockAPI はAPIのモック。未設定の操作はテストを失敗させる。
type mockAPI struct {
	t     *testing.T
	calls atomic.Int32

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

func (m *mockAPI) unexpected(op string) {
	m.t.Helper()
	m.t.Errorf("予期しない呼び出し: %s", op)
}

func (m *mockAPI) Login(ctx context.Context, email, password string) (*model.Session, error) {
	m.calls.Add(1)
	if m.loginFn == nil {
		m.unexpected("Login")
		return nil, model.NewServerError(500, "")
	}
	return m.loginFn(ctx, email, password)
}

func (m *mockAPI) SignUp(ctx context.Context, in gateway.SignUpInput) error {
	m.calls.Add(1)
	if m.signUpFn == nil {
		m.unexpected("SignUp")
		return model.NewServerError(500, "")
	}
	return m.signUpFn(ctx, in)
}

func (m *mockAPI) ListPosts(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
	m.calls.Add(1)
	if m.listPostsFn == nil {
		m.unexpected("ListPosts")
		return nil, model.NewServerError(500, "")
	}
	return m.listPostsFn(ctx, cred)
}

func (m *mockAPI) ListUserPosts(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
	m.calls.Add(1)
	if m.listUserPostsFn == nil {
		m.unexpected("ListUserPosts")
		return nil, model.NewServerError(500, "")
	}
	return m.listUserPostsFn(ctx, cred)
}

func (m *mockAPI) CreatePost(ctx context.Context, cred gateway.Credentials, in gateway.PostInput) (*model.Post, error) {
	m.calls.Add(1)
	if m.createPostFn == nil {
		m.unexpected("CreatePost")
		return nil, model.NewServerError(500, "")
	}
	return m.createPostFn(ctx, cred, in)
}

func (m *mockAPI) UpdatePost(ctx context.Context, cred gateway.Credentials, id string, in gateway.PostInput) (*model.Post, error) {
	m.calls.Add(1)
	if m.updatePostFn == nil {
		m.unexpected("UpdatePost")
		return nil, model.NewServerError(500, "")
	}
	return m.updatePostFn(ctx, cred, id, in)
}

func (m *mockAPI) DeletePost(ctx context.Context, cred gateway.Credentials, id string) error {
	m.calls.Add(1)
	if m.deletePostFn == nil {
		m.unexpected("DeletePost")
		return model.NewServerError(500, "")
	}
	return m.deletePostFn(ctx, cred, id)
}

func (m *mockAPI) ToggleLike(ctx context.Context, cred gateway.Credentials, id string) ([]string, error) {
	m.calls.Add(1)
	if m.toggleLikeFn == nil {
		m.unexpected("ToggleLike")
		return nil, model.NewServerError(500, "")
	}
	return m.toggleLikeFn(ctx, cred, id)
}

func (m *mockAPI) AddComment(ctx context.Context, cred gateway.Credentials, id, text string) (*model.Comment, error) {
	m.calls.Add(1)
	if m.addCommentFn == nil {
		m.unexpected("AddComment")
		return nil, model.NewServerError(500, "")
	}
	return m.addCommentFn(ctx, cred, id, text)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

type testEnv struct {
	api     *mockAPI
	store   *session.Store
	notices *NoticeRecorder
	deps    Deps
}

// newTestEnv はログイン済み（ユーザーu1, トークンt1）の依存一式を生成する。
func newTestEnv(t *testing.T, loggedIn bool) *testEnv {
	t.Helper()
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	var initial *model.Session
	if loggedIn {
		initial = &model.Session{Token: "t1", User: &model.User{ID: "u1", Name: "A"}}
	}
	store := session.NewStore(session.NewMemoryPersister(initial), logger)
	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("Restore がエラーを返した: %v", err)
	}

	api := &mockAPI{t: t}
	notices := &NoticeRecorder{}
	return &testEnv{
		api:     api,
		store:   store,
		notices: notices,
		deps: Deps{
			API:      api,
			Store:    store,
			Notifier: notices,
			Logger:   logger,
		},
	}
}

func (e *testEnv) lastNotice(t *testing.T) Notice {
	t.Helper()
	n, ok := e.notices.last()
	if !ok {
		t.Fatal("通知が記録されていない")
	}
	return n
}

func testPosts() []*model.Post {
	return []*model.Post{
		{ID: "p1", Title: "First", Description: "first description", Likes: []string{"u1"}},
		{ID: "p2", Title: "Second", Description: "second description", Likes: []string{}},
	}
}
