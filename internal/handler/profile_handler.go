package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/postboard/internal/controller"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/validation"
)

// ProfileHandler はログインユーザー自身の投稿一覧画面のHTTPハンドラー。
type ProfileHandler struct {
	viewHandler
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(views *ViewRegistry, sanitizer *security.PostSanitizer) *ProfileHandler {
	return &ProfileHandler{viewHandler{views: views, sanitizer: sanitizer}}
}

// profileResponse はプロフィール画面のAPIレスポンス。
// 投稿がなければEmptyMessage、取得に失敗した場合はLoadErrorを表示する。
type profileResponse struct {
	User         *userResponse       `json:"user,omitempty"`
	Posts        []postResponse      `json:"posts"`
	EmptyMessage string              `json:"empty_message,omitempty"`
	LoadError    string              `json:"load_error,omitempty"`
	Loading      bool                `json:"loading"`
	Deleting     bool                `json:"deleting"`
	Notices      []controller.Notice `json:"notices"`
}

// ListProfile は自分の投稿を再取得して返す。
// 取得失敗はエラーバナーとして200で返し、認証エラーのみ401にする。
// GET /api/profile
func (h *ProfileHandler) ListProfile(w http.ResponseWriter, r *http.Request) {
	vs, ok := h.viewSet(w, r)
	if !ok {
		return
	}

	res := vs.Profile.Load(r.Context())
	if res.Status == controller.StatusFailed && res.Redirect != "" {
		writeResultError(w, res, vs.Notices.Drain())
		return
	}
	if res.Status == controller.StatusDropped {
		writeResultError(w, res, vs.Notices.Drain())
		return
	}
	h.writeProfile(w, http.StatusOK, vs)
}

// UpdatePost は自分の投稿を編集する。
// PATCH /api/profile/posts/{id}
func (h *ProfileHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	values, upload, err := readForm(w, r)
	if err != nil {
		writeInvalidRequest(w, err)
		return
	}
	vs, ok := h.viewSet(w, r)
	if !ok {
		return
	}

	if !vs.Profile.BeginEdit(postID) {
		// 一覧が未取得か古い場合は取得し直してから選択する
		res := vs.Profile.Load(r.Context())
		if res.Status == controller.StatusFailed && res.Redirect != "" {
			writeResultError(w, res, vs.Notices.Drain())
			return
		}
		if !vs.Profile.BeginEdit(postID) {
			writeResultError(w, notFound("Post not found."), vs.Notices.Drain())
			return
		}
	}

	// 指定されなかった項目は現在の値を保つ
	if v, ok := values[validation.FieldTitle]; ok {
		vs.Profile.SetEditField(validation.FieldTitle, v)
	}
	if v, ok := values[validation.FieldDescription]; ok {
		vs.Profile.SetEditField(validation.FieldDescription, v)
	}
	vs.Profile.SetEditImage(upload)

	res := vs.Profile.SubmitEdit(r.Context())
	if !res.OK() {
		writeResultError(w, res, vs.Notices.Drain())
		return
	}
	h.writeProfile(w, http.StatusOK, vs)
}

// DeletePost は自分の投稿を削除する。
// DELETE /api/profile/posts/{id}
func (h *ProfileHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	vs, ok := h.viewSet(w, r)
	if !ok {
		return
	}

	res := vs.Profile.Delete(r.Context(), postID)
	if !res.OK() {
		writeResultError(w, res, vs.Notices.Drain())
		return
	}
	h.writeProfile(w, http.StatusOK, vs)
}

func (h *ProfileHandler) writeProfile(w http.ResponseWriter, statusCode int, vs *ViewSet) {
	user := vs.Store.User()
	posts := h.toPostResponses(vs.Profile.Posts(), user)
	for i := range posts {
		posts[i].Updating = vs.Profile.Updating(posts[i].ID)
	}
	writeJSON(w, statusCode, profileResponse{
		User:         toUserResponse(user),
		Posts:        posts,
		EmptyMessage: vs.Profile.EmptyMessage(),
		LoadError:    vs.Profile.LoadError(),
		Loading:      vs.Profile.Loading(),
		Deleting:     vs.Profile.Deleting(),
		Notices:      vs.Notices.Drain(),
	})
}
