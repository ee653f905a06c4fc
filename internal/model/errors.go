// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ（サーバー提供の文言、なければ汎用文言）
	Category string            // カテゴリ: validation, auth, not_found, server
	Action   string            // ユーザー向け対処方法
	Status   int               // HTTPステータス。ネットワーク障害・ローカル検証では0
	Fields   map[string]string // validationのみ: フィールド名 → 最初に違反したルールのメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("[%s] %d %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryAuth       = "auth"
	CategoryNotFound   = "not_found"
	CategoryServer     = "server"
)

// 定義済みエラーコード
const (
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeNoSession        = "NO_SESSION"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeServerError      = "SERVER_ERROR"
	ErrCodeNetworkError     = "NETWORK_ERROR"
)

// NewValidationError はフィールド単位の検証エラーを生成する。
// ネットワークには到達しない。
func NewValidationError(fields map[string]string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "Some fields are invalid.",
		Category: CategoryValidation,
		Action:   "Fix the highlighted fields and submit again.",
		Fields:   fields,
	}
}

// NewUnauthenticatedError はトークン期限切れ・無効時のエラーを生成する。
// 呼び出し元（ビューコントローラ）がログイン画面へ誘導する。
func NewUnauthenticatedError(status int, message string) *APIError {
	if message == "" {
		message = "Your session has expired."
	}
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  message,
		Category: CategoryAuth,
		Action:   "Log in again.",
		Status:   status,
	}
}

// NewNoSessionError はセッションが存在しない状態で認証付き操作を呼んだ場合のエラーを生成する。
func NewNoSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeNoSession,
		Message:  "You are not logged in.",
		Category: CategoryAuth,
		Action:   "Log in to continue.",
	}
}

// NewNotFoundError は404系のエラーを生成する。
// 一覧取得では空状態として描画され、エラーバナーにはならない。
func NewNotFoundError(status int, message string) *APIError {
	if message == "" {
		message = "Not found."
	}
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  message,
		Category: CategoryNotFound,
		Action:   "Refresh the list.",
		Status:   status,
	}
}

// NewServerError はその他の非2xxレスポンスのエラーを生成する。
func NewServerError(status int, message string) *APIError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &APIError{
		Code:     ErrCodeServerError,
		Message:  message,
		Category: CategoryServer,
		Action:   "Try again in a moment.",
		Status:   status,
	}
}

// NewNetworkError は通信自体が失敗した場合のエラーを生成する。
func NewNetworkError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  fmt.Sprintf("network error: %v", err),
		Category: CategoryServer,
		Action:   "Check your connection and try again.",
	}
}

// AsAPIError はerrをAPIErrorとして取り出す。
// APIError以外のエラーはServerErrorに包んで返す。
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{
		Code:     ErrCodeServerError,
		Message:  err.Error(),
		Category: CategoryServer,
		Action:   "Try again in a moment.",
	}
}

// IsCategory はerrが指定カテゴリのAPIErrorかを判定する。
func IsCategory(err error, category string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Category == category
}

// IsAuthError は再ログインが必要なエラーかを判定する。
func IsAuthError(err error) bool {
	return IsCategory(err, CategoryAuth)
}

// IsNotFound は404系のエラーかを判定する。
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
