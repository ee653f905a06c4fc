package controller

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/session"
)

// API はコントローラが利用するリモートAPI操作。*gateway.Client が実装する。
type API interface {
	Login(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, in gateway.SignUpInput) error
	ListPosts(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error)
	ListUserPosts(ctx context.Context, cred gateway.Credentials) ([]*model.Post, error)
	CreatePost(ctx context.Context, cred gateway.Credentials, in gateway.PostInput) (*model.Post, error)
	UpdatePost(ctx context.Context, cred gateway.Credentials, id string, in gateway.PostInput) (*model.Post, error)
	DeletePost(ctx context.Context, cred gateway.Credentials, id string) error
	ToggleLike(ctx context.Context, cred gateway.Credentials, id string) ([]string, error)
	AddComment(ctx context.Context, cred gateway.Credentials, id, text string) (*model.Comment, error)
}

// Deps はコントローラの共通依存。
type Deps struct {
	API      API
	Store    *session.Store
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Metrics = metrics.OrNop(d.Metrics)
	return d
}

func (d Deps) notify(level NoticeLevel, msg string) {
	d.Notifier.Notify(Notice{Level: level, Message: msg})
}

// acquire は認証付き操作用のLeaseを取得する。
// 未ログインならログイン画面への遷移を伴う失敗結果を返す。
func (d Deps) acquire() (*session.Lease, *Result) {
	lease, err := d.Store.Acquire()
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			d.Logger.Error("failed to acquire session", slog.String("error", err.Error()))
		}
		return nil, &Result{
			Status:   StatusFailed,
			Err:      model.NewNoSessionError(),
			Redirect: RouteLogin,
		}
	}
	return lease, nil
}

// failure はAPIのエラーを結果に変換する。認証エラーはログイン画面へ誘導する。
// ログアウトは明示的なLogoutでのみ行い、ここではセッションを破棄しない。
func failure(err error) Result {
	apiErr := model.AsAPIError(err)
	r := Result{Status: StatusFailed, Err: apiErr}
	if apiErr.Category == model.CategoryAuth {
		r.Redirect = RouteLogin
	}
	return r
}

// message はサーバー提供の文言、なければフォールバックを返す。
// 通信障害の詳細はユーザーに見せない。
func message(err *model.APIError, fallback string) string {
	if err != nil && err.Message != "" && err.Code != model.ErrCodeNetworkError {
		return err.Message
	}
	return fallback
}

// invalid は検証エラーの結果を返す。
func invalid(fields map[string]string) Result {
	return Result{Status: StatusInvalid, Err: model.NewValidationError(fields)}
}
