// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/postboard/internal/model"
)

// WebSessionRepository はBFFのWebセッションの永続化インターフェース。
type WebSessionRepository interface {
	// Create はWebセッションを作成する。
	Create(ctx context.Context, ws *model.WebSession) error
	// FindByID は指定IDのWebセッションを取得する。期限切れ・存在しない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.WebSession, error)
	// SaveLogin はリモートAPIのトークンとキャッシュ済みユーザーを保存する。
	SaveLogin(ctx context.Context, id, token string, user *model.User) error
	// ClearLogin はトークンとユーザーを消去し、匿名セッションに戻す。
	ClearLogin(ctx context.Context, id string) error
	// Touch は有効期限を延長する。
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのWebセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのWebセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
