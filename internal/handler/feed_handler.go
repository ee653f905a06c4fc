package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/postboard/internal/controller"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/validation"
)

// FeedHandler は全ユーザーの投稿一覧画面のHTTPハンドラー。
type FeedHandler struct {
	viewHandler
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(views *ViewRegistry, sanitizer *security.PostSanitizer) *FeedHandler {
	return &FeedHandler{viewHandler{views: views, sanitizer: sanitizer}}
}

// feedResponse はフィード画面のAPIレスポンス。
type feedResponse struct {
	Posts   []postResponse      `json:"posts"`
	Loading bool                `json:"loading"`
	Notices []controller.Notice `json:"notices"`
}

// ListFeed はフィードを再取得して返す。
// GET /api/feed
func (h *FeedHandler) ListFeed(w http.ResponseWriter, r *http.Request) {
	vs, ok := h.viewSet(w, r)
	if !ok {
		return
	}

	res := vs.Feed.Load(r.Context())
	// 取得中の二重リクエストは現在のリストをそのまま返す
	if !res.OK() && res.Status != controller.StatusIgnored {
		writeResultError(w, res, vs.Notices.Drain())
		return
	}
	h.writeFeed(w, http.StatusOK, vs)
}

// CreatePost は新規投稿を作成し、先頭に追加したフィードを返す。
// POST /api/feed/posts
func (h *FeedHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	values, upload, err := readForm(w, r)
	if err != nil {
		writeInvalidRequest(w, err)
		return
	}
	vs, ok := h.viewSet(w, r)
	if !ok {
		return
	}

	vs.Feed.SetPostField(validation.FieldTitle, values[validation.FieldTitle])
	vs.Feed.SetPostField(validation.FieldDescription, values[validation.FieldDescription])
	vs.Feed.SetPostImage(upload)
	res := vs.Feed.SubmitPost(r.Context())
	if !res.OK() {
		writeResultError(w, res, vs.Notices.Drain())
		return
	}
	h.writeFeed(w, http.StatusCreated, vs)
}

// LikePost はいいねを切り替える。
// POST /api/feed/posts/{id}/like
func (h *FeedHandler) LikePost(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	vs, ok := h.viewSet(w, r)
	if !ok {
		return
	}
	if !h.ensureLoaded(w, r, vs) {
		return
	}

	res := vs.Feed.Like(r.Context(), postID)
	if !res.OK() {
		writeResultError(w, res, vs.Notices.Drain())
		return
	}
	h.writeFeed(w, http.StatusOK, vs)
}

// AddComment は投稿にコメントを追加する。
// POST /api/feed/posts/{id}/comments
func (h *FeedHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	values, _, err := readForm(w, r)
	if err != nil {
		writeInvalidRequest(w, err)
		return
	}
	vs, ok := h.viewSet(w, r)
	if !ok {
		return
	}
	if !h.ensureLoaded(w, r, vs) {
		return
	}

	if !vs.Feed.OpenComments(postID) {
		writeResultError(w, notFound("Post not found."), vs.Notices.Drain())
		return
	}
	vs.Feed.SetCommentText(values[validation.FieldText])
	res := vs.Feed.SubmitComment(r.Context())
	if !res.OK() {
		writeResultError(w, res, vs.Notices.Drain())
		return
	}
	h.writeFeed(w, http.StatusCreated, vs)
}

// ensureLoaded はフィード未取得のViewSetで一覧を取得する。
// 失敗時はレスポンスを書き込んでfalseを返す。
func (h *FeedHandler) ensureLoaded(w http.ResponseWriter, r *http.Request, vs *ViewSet) bool {
	if vs.Feed.Loaded() {
		return true
	}
	res := vs.Feed.Load(r.Context())
	if !res.OK() && res.Status != controller.StatusIgnored {
		writeResultError(w, res, vs.Notices.Drain())
		return false
	}
	return true
}

func (h *FeedHandler) writeFeed(w http.ResponseWriter, statusCode int, vs *ViewSet) {
	posts := h.toPostResponses(vs.Feed.Posts(), vs.Store.User())
	for i := range posts {
		posts[i].LikePending = vs.Feed.LikeBusy(posts[i].ID)
	}
	writeJSON(w, statusCode, feedResponse{
		Posts:   posts,
		Loading: vs.Feed.Loading(),
		Notices: vs.Notices.Drain(),
	})
}
