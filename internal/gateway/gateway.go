// Package gateway はリモート投稿APIへのリクエストを発行する薄いラッパーを提供する。
//
// 論理操作名とペイロードを受け取り、成功時はデコード済みデータ、失敗時は
// *model.APIError を返す。リトライ・バックオフは行わず、タイムアウトは
// トランスポートのデフォルトに従う。401でログイン画面へ遷移させるのは呼び出し元の責務。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
)

// DefaultBaseURL はリモートAPIのデフォルトのベースURL。
const DefaultBaseURL = "https://posts-api-six.vercel.app"

// maxErrorBody はエラーレスポンスから読み取る最大バイト数。
const maxErrorBody = 64 * 1024

// Credentials は認証付き操作に渡すBearerトークンの供給元。
// session.Lease が実装する。Valid() を持つ場合は発行前に確認する。
type Credentials interface {
	Token() string
}

type validator interface {
	Valid() bool
}

// Operation はリモートAPIの論理操作名。
type Operation string

const (
	OpLogin         Operation = "login"
	OpSignUp        Operation = "signup"
	OpListPosts     Operation = "list_posts"
	OpListUserPosts Operation = "list_user_posts"
	OpCreatePost    Operation = "create_post"
	OpUpdatePost    Operation = "update_post"
	OpDeletePost    Operation = "delete_post"
	OpToggleLike    Operation = "toggle_like"
	OpAddComment    Operation = "add_comment"
)

type route struct {
	method   string
	path     string // "{id}" は Request.ID で置換する
	auth     bool
	fallback string
}

var routes = map[Operation]route{
	OpLogin:         {http.MethodPost, "/login", false, "Login failed!"},
	OpSignUp:        {http.MethodPost, "/signup", false, "Signup failed!"},
	OpListPosts:     {http.MethodGet, "/posts", true, "Failed to fetch posts."},
	OpListUserPosts: {http.MethodGet, "/posts/user", true, "An error occurred while fetching posts."},
	OpCreatePost:    {http.MethodPost, "/posts", true, "Failed to add post."},
	OpUpdatePost:    {http.MethodPatch, "/posts/{id}", true, "Failed to update post"},
	OpDeletePost:    {http.MethodDelete, "/posts/{id}", true, "Failed to delete post"},
	OpToggleLike:    {http.MethodPost, "/posts/like/{id}", true, "Failed to like post"},
	OpAddComment:    {http.MethodPost, "/posts/comment/{id}", true, "Failed to add comment"},
}

// Operations は定義済みの全操作を名前順で返す。
func Operations() []Operation {
	ops := make([]Operation, 0, len(routes))
	for op := range routes {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// FallbackMessage はサーバーがメッセージを返さなかった場合の文言を返す。
func FallbackMessage(op Operation) string {
	return routes[op].fallback
}

// Request は1回のAPI呼び出しの入力。
// Uploadが存在する場合はmultipart、それ以外はJSONで送信する。
type Request struct {
	Op          Operation
	ID          string
	Fields      map[string]string
	Upload      *model.Upload
	UploadField string // 省略時は "image"
}

// Client はリモートAPIのクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    metrics.Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientがnilの場合はhttp.DefaultClientを使う。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger, rec metrics.Recorder) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
		metrics:    metrics.OrNop(rec),
	}
}

// Do は操作名でディスパッチしてリクエストを発行し、成功時のレスポンスボディを返す。
// 認証付き操作で有効な資格情報がない場合はネットワークに到達せずNoSessionエラーを返す。
func (c *Client) Do(ctx context.Context, cred Credentials, req Request) (json.RawMessage, error) {
	res, err := c.roundTrip(ctx, cred, req)
	if err != nil {
		return nil, err
	}
	return res.body, nil
}

// call はリクエストを発行し、成功時のボディをoutへデコードする。outがnilならデコードしない。
func (c *Client) call(ctx context.Context, cred Credentials, req Request, out any) (int, error) {
	res, err := c.roundTrip(ctx, cred, req)
	if err != nil {
		return 0, err
	}
	if out == nil {
		return res.status, nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return res.status, c.malformed(req.Op, res.status, err)
	}
	return res.status, nil
}

// malformed は2xxでも内容を解釈できない応答を操作ごとの既定文言のサーバーエラーにする。
// デコードエラーの詳細はログにのみ残す。
func (c *Client) malformed(op Operation, status int, cause error) *model.APIError {
	c.metrics.RecordFailure(string(op), model.CategoryServer)
	c.logger.Error("api response malformed",
		slog.String("operation", string(op)),
		slog.Int("status", status),
		slog.String("error", cause.Error()),
	)
	return model.NewServerError(status, FallbackMessage(op))
}

type reply struct {
	status int
	body   json.RawMessage
}

func (c *Client) roundTrip(ctx context.Context, cred Credentials, req Request) (*reply, error) {
	rt, ok := routes[req.Op]
	if !ok {
		return nil, fmt.Errorf("unknown operation: %q", req.Op)
	}

	var token string
	if rt.auth {
		token = tokenOf(cred)
		if token == "" {
			c.metrics.RecordFailure(string(req.Op), model.CategoryAuth)
			return nil, model.NewNoSessionError()
		}
	}

	path := rt.path
	if strings.Contains(path, "{id}") {
		if req.ID == "" {
			return nil, fmt.Errorf("operation %s requires a post id", req.Op)
		}
		path = strings.Replace(path, "{id}", url.PathEscape(req.ID), 1)
	}

	body, contentType, err := encodeBody(rt.method, req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", req.Op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, rt.method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", req.Op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordRequest(string(req.Op), 0, duration)
		c.metrics.RecordFailure(string(req.Op), model.CategoryServer)
		c.logger.Error("api request failed",
			slog.String("operation", string(req.Op)),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, model.NewNetworkError(err)
	}
	defer resp.Body.Close()

	c.metrics.RecordRequest(string(req.Op), resp.StatusCode, duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := failure(resp.StatusCode, resp.Header.Get("Content-Type"), data, rt.fallback)
		c.metrics.RecordFailure(string(req.Op), apiErr.Category)
		c.logger.Warn("api request rejected",
			slog.String("operation", string(req.Op)),
			slog.Int("status", resp.StatusCode),
			slog.String("category", apiErr.Category),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		return nil, apiErr
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordFailure(string(req.Op), model.CategoryServer)
		return nil, model.NewNetworkError(err)
	}

	c.logger.Info("api request settled",
		slog.String("operation", string(req.Op)),
		slog.Int("status", resp.StatusCode),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)
	return &reply{status: resp.StatusCode, body: data}, nil
}

func tokenOf(cred Credentials) string {
	if cred == nil {
		return ""
	}
	if v, ok := cred.(validator); ok && !v.Valid() {
		return ""
	}
	return cred.Token()
}

// encodeBody はUploadの有無でmultipartとJSONを切り替える。
// GETとDELETEはボディを送らない。
func encodeBody(method string, req Request) (io.Reader, string, error) {
	if method == http.MethodGet || method == http.MethodDelete {
		return nil, "", nil
	}

	if req.Upload.Present() {
		return encodeMultipart(req)
	}

	fields := req.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

func encodeMultipart(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	names := make([]string, 0, len(req.Fields))
	for name := range req.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.WriteField(name, req.Fields[name]); err != nil {
			return nil, "", err
		}
	}

	field := req.UploadField
	if field == "" {
		field = "image"
	}
	filename := req.Upload.Filename
	if filename == "" {
		filename = field
	}
	contentType := req.Upload.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Upload.Data)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Upload.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
