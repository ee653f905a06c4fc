package controller

import (
	"context"
	"fmt"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/session"
)

// Logout はセッションを破棄する。取得済みのLeaseは以降無効になる。
func Logout(ctx context.Context, store *session.Store, n Notifier) Result {
	if n == nil {
		n = nopNotifier{}
	}
	if err := store.Teardown(ctx); err != nil {
		n.Notify(Notice{Level: NoticeError, Message: "Logout failed"})
		return Result{Status: StatusFailed, Err: model.AsAPIError(err), Redirect: RouteLogin}
	}
	return Result{Status: StatusSucceeded, Redirect: RouteLogin}
}

// Greeting はナビゲーションバーの挨拶文を返す。未ログインなら空文字列。
func Greeting(u *model.User) string {
	if u == nil || u.Name == "" {
		return ""
	}
	return fmt.Sprintf("Hi, %s", u.Name)
}

// Landing は起動時の遷移先を返す。ログイン済みならホーム、未ログインならログイン画面。
func Landing(store *session.Store) string {
	if store.LoggedIn() {
		return RouteHome
	}
	return RouteLogin
}
