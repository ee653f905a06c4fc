package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/postboard/internal/controller"
	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/model"
)

func newTestProfileHandler(api *mockAPI) (*ProfileHandler, *model.WebSession) {
	repo := newMemWebSessionRepo()
	ws := seedLoggedIn(repo, "s1")
	return NewProfileHandler(newTestViews(api, repo), testSanitizer()), ws
}

func ownPosts(ids ...string) func(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
	return func(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
		posts := make([]*model.Post, 0, len(ids))
		for _, id := range ids {
			posts = append(posts, samplePost(id, "u1"))
		}
		return posts, nil
	}
}

// --- GET /api/profile テスト ---

func TestProfileHandler_ListProfile_Success(t *testing.T) {
	h, ws := newTestProfileHandler(&mockAPI{listUserPostsFn: ownPosts("p1", "p2")})

	w := httptest.NewRecorder()
	h.ListProfile(w, withWebSession(httptest.NewRequest(http.MethodGet, "/api/profile", nil), ws))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody[profileResponse](t, w)
	if len(body.Posts) != 2 {
		t.Errorf("posts = %d, want 2", len(body.Posts))
	}
	if body.EmptyMessage != "" || body.LoadError != "" {
		t.Errorf("empty/load_error = %q / %q", body.EmptyMessage, body.LoadError)
	}
	if body.User == nil || body.User.Name != "Alice" {
		t.Errorf("user = %+v", body.User)
	}
}

func TestProfileHandler_ListProfile_EmptyStates(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error)
	}{
		{"0件", ownPosts()},
		{"404", func(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
			return nil, model.NewNotFoundError(http.StatusNotFound, "")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ws := newTestProfileHandler(&mockAPI{listUserPostsFn: tt.fn})

			w := httptest.NewRecorder()
			h.ListProfile(w, withWebSession(httptest.NewRequest(http.MethodGet, "/api/profile", nil), ws))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if body := decodeBody[profileResponse](t, w); body.EmptyMessage != controller.EmptyProfileMessage {
				t.Errorf("empty_message = %q, want %q", body.EmptyMessage, controller.EmptyProfileMessage)
			}
		})
	}
}

func TestProfileHandler_ListProfile_ServerError_ReturnsBanner(t *testing.T) {
	api := &mockAPI{
		listUserPostsFn: func(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
			return nil, model.NewServerError(http.StatusInternalServerError, "")
		},
	}
	h, ws := newTestProfileHandler(api)

	w := httptest.NewRecorder()
	h.ListProfile(w, withWebSession(httptest.NewRequest(http.MethodGet, "/api/profile", nil), ws))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := decodeBody[profileResponse](t, w); body.LoadError != controller.ProfileLoadErrorMessage {
		t.Errorf("load_error = %q", body.LoadError)
	}
}

func TestProfileHandler_ListProfile_Unauthorized_Returns401(t *testing.T) {
	api := &mockAPI{
		listUserPostsFn: func(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error) {
			return nil, model.NewUnauthenticatedError(http.StatusUnauthorized, "")
		},
	}
	h, ws := newTestProfileHandler(api)

	w := httptest.NewRecorder()
	h.ListProfile(w, withWebSession(httptest.NewRequest(http.MethodGet, "/api/profile", nil), ws))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Redirect != controller.RouteLogin {
		t.Errorf("redirect = %q", body.Redirect)
	}
}

// --- PATCH /api/profile/posts/{id} テスト ---

func TestProfileHandler_UpdatePost_KeepsUnspecifiedFields(t *testing.T) {
	var got gateway.PostInput
	api := &mockAPI{
		listUserPostsFn: ownPosts("p1"),
		updatePostFn: func(ctx context.Context, cred gateway.Credentials, id string, in gateway.PostInput) (*model.Post, error) {
			got = in
			p := samplePost(id, "u1")
			p.Title, p.Description = in.Title, in.Description
			p.Version = 2
			return p, nil
		},
	}
	h, ws := newTestProfileHandler(api)

	req := withChiURLParam(jsonRequest(http.MethodPatch, "/api/profile/posts/p1", `{"title":"Edited title"}`), "id", "p1")
	w := httptest.NewRecorder()
	h.UpdatePost(w, withWebSession(req, ws))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if got.Title != "Edited title" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Description != "Body of post p1" {
		t.Errorf("指定しない本文は現在の値を保つべき: %q", got.Description)
	}
	body := decodeBody[profileResponse](t, w)
	if body.Posts[0].Title != "Edited title" {
		t.Errorf("一覧に編集結果が反映されていない: %+v", body.Posts[0])
	}
}

func TestProfileHandler_UpdatePost_ValidationError_Returns400(t *testing.T) {
	h, ws := newTestProfileHandler(&mockAPI{listUserPostsFn: ownPosts("p1")})

	req := withChiURLParam(jsonRequest(http.MethodPatch, "/api/profile/posts/p1", `{"title":""}`), "id", "p1")
	w := httptest.NewRecorder()
	h.UpdatePost(w, withWebSession(req, ws))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Fields["title"] != "Title cannot be empty" {
		t.Errorf("fields = %+v", body.Fields)
	}
}

func TestProfileHandler_UpdatePost_UnknownPost_Returns404(t *testing.T) {
	h, ws := newTestProfileHandler(&mockAPI{listUserPostsFn: ownPosts("p1")})

	req := withChiURLParam(jsonRequest(http.MethodPatch, "/api/profile/posts/zzz", `{"title":"Edited"}`), "id", "zzz")
	w := httptest.NewRecorder()
	h.UpdatePost(w, withWebSession(req, ws))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// --- DELETE /api/profile/posts/{id} テスト ---

func TestProfileHandler_DeletePost_LastPost_ShowsEmptyMessage(t *testing.T) {
	api := &mockAPI{
		listUserPostsFn: ownPosts("p1"),
		deletePostFn: func(ctx context.Context, cred gateway.Credentials, id string) error {
			return nil
		},
	}
	h, ws := newTestProfileHandler(api)

	h.ListProfile(httptest.NewRecorder(), withWebSession(httptest.NewRequest(http.MethodGet, "/api/profile", nil), ws))

	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/profile/posts/p1", nil), "id", "p1")
	w := httptest.NewRecorder()
	h.DeletePost(w, withWebSession(req, ws))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody[profileResponse](t, w)
	if len(body.Posts) != 0 {
		t.Errorf("posts = %d, want 0", len(body.Posts))
	}
	if body.EmptyMessage != controller.EmptyAfterDeleteMessage {
		t.Errorf("empty_message = %q, want %q", body.EmptyMessage, controller.EmptyAfterDeleteMessage)
	}
}

func TestProfileHandler_DeletePost_Failure_ReturnsFallbackMessage(t *testing.T) {
	api := &mockAPI{
		listUserPostsFn: ownPosts("p1"),
		deletePostFn: func(ctx context.Context, cred gateway.Credentials, id string) error {
			return model.NewServerError(http.StatusInternalServerError, "boom")
		},
	}
	h, ws := newTestProfileHandler(api)

	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/profile/posts/p1", nil), "id", "p1")
	w := httptest.NewRecorder()
	h.DeletePost(w, withWebSession(req, ws))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body.Message != "Failed to delete post" {
		t.Errorf("message = %q", body.Message)
	}
}

func TestProfileHandler_WriteProfile_MarksRequestsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	block := func() {
		close(started)
		<-release
	}

	tests := []struct {
		name  string
		api   *mockAPI
		run   func(h *ProfileHandler, ws *model.WebSession)
		check func(t *testing.T, body profileResponse)
	}{
		{
			name: "削除中",
			api: &mockAPI{deletePostFn: func(ctx context.Context, cred gateway.Credentials, id string) error {
				block()
				return nil
			}},
			run: func(h *ProfileHandler, ws *model.WebSession) {
				req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/profile/posts/p1", nil), "id", "p1")
				h.DeletePost(httptest.NewRecorder(), withWebSession(req, ws))
			},
			check: func(t *testing.T, body profileResponse) {
				if !body.Deleting {
					t.Error("削除の送信中はdeletingであるべき")
				}
			},
		},
		{
			name: "編集中",
			api: &mockAPI{updatePostFn: func(ctx context.Context, cred gateway.Credentials, id string, in gateway.PostInput) (*model.Post, error) {
				block()
				return samplePost(id, "u1"), nil
			}},
			run: func(h *ProfileHandler, ws *model.WebSession) {
				req := withChiURLParam(jsonRequest(http.MethodPatch, "/api/profile/posts/p1", `{"title":"Edited title"}`), "id", "p1")
				h.UpdatePost(httptest.NewRecorder(), withWebSession(req, ws))
			},
			check: func(t *testing.T, body profileResponse) {
				if !body.Posts[0].Updating || body.Posts[1].Updating {
					t.Errorf("updating = %v / %v, want true / false", body.Posts[0].Updating, body.Posts[1].Updating)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started = make(chan struct{})
			release = make(chan struct{})
			tt.api.listUserPostsFn = ownPosts("p1", "p2")
			h, ws := newTestProfileHandler(tt.api)
			h.ListProfile(httptest.NewRecorder(), withWebSession(httptest.NewRequest(http.MethodGet, "/api/profile", nil), ws))
			vs, _ := h.views.Get(context.Background(), ws)

			done := make(chan struct{})
			go func() {
				defer close(done)
				tt.run(h, ws)
			}()
			<-started

			w := httptest.NewRecorder()
			h.writeProfile(w, http.StatusOK, vs)
			body := decodeBody[profileResponse](t, w)
			close(release)
			<-done

			if len(body.Posts) != 2 {
				t.Fatalf("posts = %d, want 2", len(body.Posts))
			}
			tt.check(t, body)
			if body.Loading {
				t.Error("一覧は取得中ではない")
			}
		})
	}
}
