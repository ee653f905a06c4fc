package handler

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/postboard/internal/controller"
	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
)

func newTestAuthHandler(api *mockAPI, repo *memWebSessionRepo) (*AuthHandler, *ViewRegistry) {
	views := newTestViews(api, repo)
	return NewAuthHandler(views, repo, AuthHandlerConfig{SessionMaxAge: 3600}), views
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- POST /api/login テスト ---

func TestAuthHandler_Login_Success_CreatesSessionAndSetsCookie(t *testing.T) {
	api := &mockAPI{
		loginFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			if email != "alice@example.com" || password != "secret" {
				t.Errorf("credentials = %q/%q", email, password)
			}
			return &model.Session{Token: "tok-1", User: testUser}, nil
		},
	}
	repo := newMemWebSessionRepo()
	h, _ := newTestAuthHandler(api, repo)

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/login", `{"email":"alice@example.com","password":"secret"}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cookie := findCookie(resp, middleware.SessionCookieName)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("セッションCookieが設定されていない")
	}
	if !cookie.HttpOnly {
		t.Error("セッションCookieはHttpOnlyであるべき")
	}

	ws, ok := repo.get(cookie.Value)
	if !ok {
		t.Fatal("Webセッションが保存されていない")
	}
	if ws.Token != "tok-1" || ws.User == nil || ws.User.ID != "u1" {
		t.Errorf("保存されたログイン状態 = %+v", ws)
	}

	body := decodeBody[sessionResponse](t, w)
	if body.Redirect != controller.RouteHome {
		t.Errorf("redirect = %q, want %q", body.Redirect, controller.RouteHome)
	}
	if body.Greeting != "Hi, Alice" {
		t.Errorf("greeting = %q, want %q", body.Greeting, "Hi, Alice")
	}
	if body.User == nil || body.User.ID != "u1" {
		t.Errorf("user = %+v", body.User)
	}
	if n := len(body.Notices); n == 0 || body.Notices[n-1].Message != "Login successful!" {
		t.Errorf("notices = %+v", body.Notices)
	}

	csrf := findCookie(resp, "csrf_token")
	if csrf == nil || csrf.Value == "" {
		t.Fatal("ログイン時にCSRFトークンが再発行されていない")
	}
	if body.CSRFToken != csrf.Value {
		t.Errorf("csrf_token = %q, Cookie = %q", body.CSRFToken, csrf.Value)
	}
}

func TestAuthHandler_Login_RotatesWebSessionID(t *testing.T) {
	api := &mockAPI{
		loginFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return &model.Session{Token: "victim-token", User: testUser}, nil
		},
	}
	repo := newMemWebSessionRepo()
	planted := seedAnonymous(repo, "planted-id")
	h, views := newTestAuthHandler(api, repo)

	req := withWebSession(jsonRequest(http.MethodPost, "/api/login", `{"email":"alice@example.com","password":"secret"}`), planted)
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("セッションCookieが設定されていない")
	}
	if cookie.Value == "planted-id" {
		t.Fatal("ログイン前のセッションIDを引き継いではならない")
	}
	if _, ok := repo.get("planted-id"); ok {
		t.Error("ログイン前のWebセッションが削除されていない")
	}
	ws, ok := repo.get(cookie.Value)
	if !ok || ws.Token != "victim-token" {
		t.Errorf("新しいWebセッションにログイン状態が保存されるべき: %+v", ws)
	}
	if views.Drop("planted-id") {
		t.Error("古いIDでViewSetが残っている")
	}
	if views.Len() != 1 {
		t.Errorf("Len() = %d, want 1", views.Len())
	}
}

func TestAuthHandler_Login_Failure_StillRotatesWebSessionID(t *testing.T) {
	api := &mockAPI{
		loginFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return nil, model.NewUnauthenticatedError(http.StatusUnauthorized, "Invalid credentials")
		},
	}
	repo := newMemWebSessionRepo()
	planted := seedAnonymous(repo, "planted-id")
	h, _ := newTestAuthHandler(api, repo)

	req := withWebSession(jsonRequest(http.MethodPost, "/api/login", `{"email":"alice@example.com","password":"wrong"}`), planted)
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil || cookie.Value == "planted-id" {
		t.Fatalf("cookie = %+v", cookie)
	}
	if _, ok := repo.get("planted-id"); ok {
		t.Error("ログイン前のWebセッションが削除されていない")
	}
}

// 別ユーザーで再ログインしても、新しいIDの行には新しいユーザーが保存される。
func TestAuthHandler_Login_AsAnotherUser_RotatesAndReplacesLogin(t *testing.T) {
	bob := &model.User{ID: "u2", Name: "Bob", Email: "bob@example.com"}
	api := &mockAPI{
		loginFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return &model.Session{Token: "tok-bob", User: bob}, nil
		},
	}
	repo := newMemWebSessionRepo()
	current := seedLoggedIn(repo, "alice-session")
	h, _ := newTestAuthHandler(api, repo)

	req := withWebSession(jsonRequest(http.MethodPost, "/api/login", `{"email":"bob@example.com","password":"secret"}`), current)
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	ws, ok := repo.get(cookie.Value)
	if !ok || ws.Token != "tok-bob" || ws.User.ID != "u2" {
		t.Errorf("ログイン状態 = %+v", ws)
	}
	if _, ok := repo.get("alice-session"); ok {
		t.Error("前のWebセッションが削除されていない")
	}
}

func TestAuthHandler_Login_ValidationError_Returns400WithFields(t *testing.T) {
	called := false
	api := &mockAPI{
		loginFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			called = true
			return nil, nil
		},
	}
	h, _ := newTestAuthHandler(api, newMemWebSessionRepo())

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/login", `{"email":"not-an-email","password":""}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("検証エラー時にリモートAPIを呼んではならない")
	}
	body := parseAPIErrorResponse(t, w)
	if body.Fields["email"] != "Email must be a valid email address." {
		t.Errorf("fields[email] = %q", body.Fields["email"])
	}
	if body.Fields["password"] != "Password is required." {
		t.Errorf("fields[password] = %q", body.Fields["password"])
	}
}

func TestAuthHandler_Login_RemoteUnauthorized_Returns401WithoutRedirect(t *testing.T) {
	api := &mockAPI{
		loginFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return nil, model.NewUnauthenticatedError(http.StatusUnauthorized, "Invalid credentials")
		},
	}
	h, _ := newTestAuthHandler(api, newMemWebSessionRepo())

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/login", `{"email":"alice@example.com","password":"wrong"}`))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := parseAPIErrorResponse(t, w)
	if body.Message != "Invalid credentials" {
		t.Errorf("message = %q, want %q", body.Message, "Invalid credentials")
	}
	if body.Redirect != "" {
		t.Errorf("ログイン失敗では遷移しない: redirect = %q", body.Redirect)
	}
}

func TestAuthHandler_Login_NetworkError_HidesDetails(t *testing.T) {
	api := &mockAPI{
		loginFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return nil, model.NewNetworkError(context.DeadlineExceeded)
		},
	}
	h, _ := newTestAuthHandler(api, newMemWebSessionRepo())

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/login", `{"email":"alice@example.com","password":"x"}`))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Message != "Login failed!" {
		t.Errorf("message = %q, want %q", body.Message, "Login failed!")
	}
}

func TestAuthHandler_Login_InvalidJSON_Returns400(t *testing.T) {
	h, _ := newTestAuthHandler(&mockAPI{}, newMemWebSessionRepo())

	w := httptest.NewRecorder()
	h.Login(w, jsonRequest(http.MethodPost, "/api/login", `{invalid`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", body.Code)
	}
}

// --- POST /api/signup テスト ---

func signUpRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "avatar.png")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(image)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/signup", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAuthHandler_SignUp_Success_RedirectsToLogin(t *testing.T) {
	var got gateway.SignUpInput
	api := &mockAPI{
		signUpFn: func(ctx context.Context, in gateway.SignUpInput) error {
			got = in
			return nil
		},
	}
	h, _ := newTestAuthHandler(api, newMemWebSessionRepo())

	req := signUpRequest(t, map[string]string{
		"name":     "Alice Smith",
		"email":    "alice@example.com",
		"password": "Passw0rd!",
	}, []byte("\x89PNG fake"))
	w := httptest.NewRecorder()
	h.SignUp(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if got.Name != "Alice Smith" || got.Email != "alice@example.com" {
		t.Errorf("input = %+v", got)
	}
	if !got.Image.Present() || got.Image.Filename != "avatar.png" {
		t.Errorf("画像が渡されていない: %+v", got.Image)
	}
	body := decodeBody[sessionResponse](t, w)
	if body.Redirect != controller.RouteLogin {
		t.Errorf("redirect = %q, want %q", body.Redirect, controller.RouteLogin)
	}
}

func TestAuthHandler_SignUp_MissingImage_Returns400(t *testing.T) {
	h, _ := newTestAuthHandler(&mockAPI{}, newMemWebSessionRepo())

	req := signUpRequest(t, map[string]string{
		"name":     "Alice",
		"email":    "alice@example.com",
		"password": "Passw0rd!",
	}, nil)
	w := httptest.NewRecorder()
	h.SignUp(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Fields["image"] != "Profile picture is required." {
		t.Errorf("fields = %+v", body.Fields)
	}
}

func TestAuthHandler_SignUp_ServerRejects_ReturnsServerMessage(t *testing.T) {
	api := &mockAPI{
		signUpFn: func(ctx context.Context, in gateway.SignUpInput) error {
			return model.NewServerError(http.StatusBadRequest, "Email already exists")
		},
	}
	h, _ := newTestAuthHandler(api, newMemWebSessionRepo())

	req := signUpRequest(t, map[string]string{
		"name":     "Alice",
		"email":    "alice@example.com",
		"password": "Passw0rd!",
	}, []byte("img"))
	w := httptest.NewRecorder()
	h.SignUp(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Message != "Email already exists" {
		t.Errorf("message = %q", body.Message)
	}
}

// --- POST /api/logout テスト ---

func TestAuthHandler_Logout_DropsViewAndClearsCookie(t *testing.T) {
	repo := newMemWebSessionRepo()
	ws := seedLoggedIn(repo, "s1")
	h, views := newTestAuthHandler(&mockAPI{}, repo)

	if _, err := views.Get(context.Background(), ws); err != nil {
		t.Fatalf("views.Get: %v", err)
	}

	w := httptest.NewRecorder()
	h.Logout(w, withWebSession(httptest.NewRequest(http.MethodPost, "/api/logout", nil), ws))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	cookie := findCookie(resp, middleware.SessionCookieName)
	if cookie == nil || cookie.MaxAge != -1 {
		t.Errorf("Cookieがクリアされていない: %+v", cookie)
	}
	if _, ok := repo.get("s1"); ok {
		t.Error("Webセッションが削除されていない")
	}
	if views.Len() != 0 {
		t.Errorf("views.Len() = %d, want 0", views.Len())
	}
	if body := decodeBody[sessionResponse](t, w); body.Redirect != controller.RouteLogin {
		t.Errorf("redirect = %q, want %q", body.Redirect, controller.RouteLogin)
	}
}

func TestAuthHandler_Logout_WithoutSession_StillClearsCookie(t *testing.T) {
	h, _ := newTestAuthHandler(&mockAPI{}, newMemWebSessionRepo())

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/api/logout", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if cookie := findCookie(w.Result(), middleware.SessionCookieName); cookie == nil || cookie.MaxAge != -1 {
		t.Errorf("Cookieがクリアされていない: %+v", cookie)
	}
}

// --- GET /api/me テスト ---

func TestAuthHandler_Me_LoggedIn_ReturnsGreeting(t *testing.T) {
	repo := newMemWebSessionRepo()
	ws := seedLoggedIn(repo, "s1")
	h, _ := newTestAuthHandler(&mockAPI{}, repo)

	w := httptest.NewRecorder()
	h.Me(w, withWebSession(httptest.NewRequest(http.MethodGet, "/api/me", nil), ws))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody[sessionResponse](t, w)
	if body.Greeting != "Hi, Alice" {
		t.Errorf("greeting = %q", body.Greeting)
	}
	if body.Redirect != controller.RouteHome {
		t.Errorf("redirect = %q, want %q", body.Redirect, controller.RouteHome)
	}
}

func TestAuthHandler_Me_AnonymousSession_Returns401(t *testing.T) {
	repo := newMemWebSessionRepo()
	anon := seedAnonymous(repo, "anon")
	h, _ := newTestAuthHandler(&mockAPI{}, repo)

	w := httptest.NewRecorder()
	h.Me(w, withWebSession(httptest.NewRequest(http.MethodGet, "/api/me", nil), anon))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Redirect != controller.RouteLogin {
		t.Errorf("redirect = %q, want %q", body.Redirect, controller.RouteLogin)
	}
}
