package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/postboard/internal/model"
)

// ErrorResponseBody はBFFのエラーレスポンスの統一フォーマット。
// request_idはLoggingMiddleware越しの場合のみ入り、アクセスログと突き合わせに使う。
type ErrorResponseBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Action    string            `json:"action"`
	Fields    map[string]string `json:"fields,omitempty"`
	Redirect  string            `json:"redirect,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteErrorResponse はAPIErrorを統一フォーマットで書き込む。
// 検証エラーのフィールドごとのメッセージもそのまま含める。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteRedirectError(w, statusCode, apiErr, "")
}

// WriteRedirectError はクライアントの遷移先を付けてエラーレスポンスを書き込む。
func WriteRedirectError(w http.ResponseWriter, statusCode int, apiErr *model.APIError, redirect string) {
	body := ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		Fields:    apiErr.Fields,
		Redirect:  redirect,
		RequestID: w.Header().Get(RequestIDHeader),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は詳細を伏せた500レスポンスを書き込む。詳細はログにのみ残すこと。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Something went wrong.",
		Category: model.CategoryServer,
		Action:   "Try again in a moment.",
	})
}
