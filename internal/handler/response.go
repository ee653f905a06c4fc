package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/hitoshi/postboard/internal/controller"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/security"
)

// maxUploadBytes はmultipartリクエスト全体の上限。
const maxUploadBytes = 10 << 20

var (
	errInvalidRequest = &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "Request body is invalid.",
		Category: model.CategoryValidation,
		Action:   "Check the request and try again.",
	}
	errRequestInFlight = &model.APIError{
		Code:     "REQUEST_IN_FLIGHT",
		Message:  "A previous request is still in progress.",
		Category: model.CategoryServer,
		Action:   "Wait for it to finish and try again.",
	}
	errRequestDiscarded = &model.APIError{
		Code:     "REQUEST_DISCARDED",
		Message:  "The view was closed before the response arrived.",
		Category: model.CategoryServer,
		Action:   "Reload the page.",
	}
)

// userResponse はログインユーザーのAPIレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

type authorResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

type commentResponse struct {
	ID        string         `json:"id"`
	Author    authorResponse `json:"author"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"created_at"`
}

// postResponse は投稿のAPIレスポンス。ユーザー入力はサニタイズ済み。
type postResponse struct {
	ID            string            `json:"id"`
	Author        authorResponse    `json:"author"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Image         string            `json:"image,omitempty"`
	Likes         []string          `json:"likes"`
	LikeLabel     string            `json:"like_label"`
	LikesCount    string            `json:"likes_count"`
	Comments      []commentResponse `json:"comments"`
	CommentsCount string            `json:"comments_count"`
	CreatedAt     time.Time         `json:"created_at"`
	// 送信中の要求があるボタンは押せない
	LikePending bool `json:"like_pending,omitempty"`
	Updating    bool `json:"updating,omitempty"`
}

// viewHandler はViewSetを使うハンドラーの共通部分。
type viewHandler struct {
	views     *ViewRegistry
	sanitizer *security.PostSanitizer
}

// viewSet はリクエストのWebセッションに対応するViewSetを返す。
// 取得できなければレスポンスを書き込んでfalseを返す。
func (h *viewHandler) viewSet(w http.ResponseWriter, r *http.Request) (*ViewSet, bool) {
	ws, ok := middleware.WebSessionFromContext(r.Context())
	if !ok {
		middleware.WriteRedirectError(w, http.StatusUnauthorized, model.NewNoSessionError(), middleware.LoginRedirect)
		return nil, false
	}
	vs, err := h.views.Get(r.Context(), ws)
	if err != nil {
		slog.Error("failed to prepare view", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return vs, true
}

// toPostResponses は投稿をサニタイズし、閲覧ユーザーに応じた表示文言を付けて返す。
func (h *viewHandler) toPostResponses(posts []*model.Post, viewer *model.User) []postResponse {
	clean := h.sanitizer.Posts(posts)
	out := make([]postResponse, 0, len(clean))
	for _, p := range clean {
		out = append(out, toPostResponse(p, viewer))
	}
	return out
}

func toPostResponse(p *model.Post, viewer *model.User) postResponse {
	comments := make([]commentResponse, 0, len(p.Comments))
	for _, c := range p.Comments {
		comments = append(comments, commentResponse{
			ID:        c.ID,
			Author:    toAuthorResponse(c.Author),
			Text:      c.Text,
			CreatedAt: c.CreatedAt,
		})
	}
	likes := p.Likes
	if likes == nil {
		likes = []string{}
	}
	return postResponse{
		ID:            p.ID,
		Author:        toAuthorResponse(p.Author),
		Title:         p.Title,
		Description:   p.Description,
		Image:         p.Image,
		Likes:         likes,
		LikeLabel:     controller.LikeLabel(p, viewer),
		LikesCount:    controller.LikesCount(p),
		Comments:      comments,
		CommentsCount: controller.CommentsCount(p),
		CreatedAt:     p.CreatedAt,
	}
}

func toAuthorResponse(a model.AuthorRef) authorResponse {
	return authorResponse{ID: a.ID, Name: a.Name, Image: a.Image}
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{ID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeResultError は成功以外の操作結果を統一エラーフォーマットで書き込む。
// 失敗時のメッセージはユーザーに表示した通知の文言に揃える。
func writeResultError(w http.ResponseWriter, res controller.Result, notices []controller.Notice) {
	switch res.Status {
	case controller.StatusIgnored:
		middleware.WriteErrorResponse(w, http.StatusConflict, errRequestInFlight)
		return
	case controller.StatusDropped:
		middleware.WriteErrorResponse(w, http.StatusConflict, errRequestDiscarded)
		return
	}

	apiErr := res.Err
	if apiErr == nil {
		apiErr = model.NewServerError(http.StatusInternalServerError, "")
	}
	if res.Status == controller.StatusFailed {
		if msg := lastErrorNotice(notices); msg != "" && msg != apiErr.Message {
			shown := *apiErr
			shown.Message = msg
			apiErr = &shown
		}
	}
	middleware.WriteRedirectError(w, mapAPIErrorToHTTPStatus(apiErr), apiErr, res.Redirect)
}

func lastErrorNotice(notices []controller.Notice) string {
	for i := len(notices) - 1; i >= 0; i-- {
		if notices[i].Level == controller.NoticeError {
			return notices[i].Message
		}
	}
	return ""
}

// mapAPIErrorToHTTPStatus はAPIErrorのカテゴリからBFFのHTTPステータスを決定する。
// リモートAPIの5xxと通信障害は502として返す。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Category {
	case model.CategoryValidation:
		return http.StatusBadRequest
	case model.CategoryAuth:
		return http.StatusUnauthorized
	case model.CategoryNotFound:
		return http.StatusNotFound
	}
	if apiErr.Status >= 400 && apiErr.Status < 500 {
		return apiErr.Status
	}
	return http.StatusBadGateway
}

// readForm はJSONまたはmultipart/form-dataの入力を読み取る。
// 画像はmultipartの "image" パートからのみ受け付ける。
func readForm(w http.ResponseWriter, r *http.Request) (map[string]string, *model.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		values := make(map[string]string)
		if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
			return nil, nil, fmt.Errorf("failed to decode JSON body: %w", err)
		}
		return values, nil, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	values := make(map[string]string)
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return values, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read image: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read image: %w", err)
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return values, &model.Upload{Filename: header.Filename, ContentType: contentType, Data: data}, nil
}

// notFound は表示中の一覧にない投稿を指定された場合の結果を返す。
func notFound(message string) controller.Result {
	return controller.Result{
		Status: controller.StatusFailed,
		Err:    model.NewNotFoundError(http.StatusNotFound, message),
	}
}

// writeInvalidRequest は読み取れないリクエストボディへの400を書き込む。
func writeInvalidRequest(w http.ResponseWriter, err error) {
	slog.Warn("invalid request body", slog.String("error", err.Error()))
	middleware.WriteErrorResponse(w, http.StatusBadRequest, errInvalidRequest)
}
