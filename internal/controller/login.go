package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/postboard/internal/form"
	"github.com/hitoshi/postboard/internal/validation"
)

// Login はログイン画面のコントローラ。
type Login struct {
	deps   Deps
	lc     *Lifecycle
	schema *validation.Schema

	mu           sync.Mutex
	draft        form.Draft
	showPassword bool
}

// NewLogin はLoginコントローラを生成する。
func NewLogin(deps Deps) *Login {
	return &Login{
		deps:   deps.withDefaults(),
		lc:     NewLifecycle(nil),
		schema: validation.LoginSchema(),
		draft:  form.New(validation.FieldEmail, validation.FieldPassword),
	}
}

// Draft は現在の入力内容を返す。
func (c *Login) Draft() form.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetField はフィールドの入力値を更新する。
func (c *Login) SetField(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = c.draft.With(name, value)
}

// TogglePasswordVisibility はパスワードの表示・非表示を切り替え、切り替え後の状態を返す。
func (c *Login) TogglePasswordVisibility() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showPassword = !c.showPassword
	return c.showPassword
}

// PasswordVisible はパスワードを表示中かを返す。
func (c *Login) PasswordVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showPassword
}

// State はライフサイクル状態を返す。
func (c *Login) State() State { return c.lc.State() }

// Close はコントローラを破棄する。
func (c *Login) Close() { c.lc.Close() }

// Submit は入力を検証してログインする。
// 成功時はセッションを保存してホームへの遷移を返す。失敗時は入力値を保持する。
func (c *Login) Submit(ctx context.Context) Result {
	if !c.lc.begin() {
		return Result{Status: StatusIgnored}
	}

	draft := c.Draft()
	res := c.schema.Validate(draft.Values())
	if !res.Valid() {
		c.mu.Lock()
		c.draft = c.draft.WithErrors(res.Errors)
		c.mu.Unlock()
		c.lc.reject()
		c.deps.Metrics.RecordValidationFailure(c.schema.Name())
		return invalid(res.Errors)
	}

	c.lc.submit()
	c.deps.notify(NoticeLoading, "Logging in...")

	sess, err := c.deps.API.Login(ctx, draft.String(validation.FieldEmail), draft.String(validation.FieldPassword))

	var result Result
	alive := c.lc.settle(err == nil, func() {
		if err != nil {
			// ログイン失敗の401は資格情報の誤りなので遷移させない
			r := failure(err)
			r.Redirect = ""
			msg := message(r.Err, "Login failed")
			c.mu.Lock()
			c.draft = c.draft.WithFormError(msg)
			c.mu.Unlock()
			c.deps.notify(NoticeError, message(r.Err, "Login failed!"))
			result = r
			return
		}

		if err := c.deps.Store.Save(ctx, sess); err != nil {
			c.deps.Logger.Error("failed to store session", slog.String("error", err.Error()))
			r := failure(err)
			c.mu.Lock()
			c.draft = c.draft.WithFormError("Login failed")
			c.mu.Unlock()
			c.deps.notify(NoticeError, "Login failed!")
			result = r
			return
		}

		c.mu.Lock()
		c.draft = c.draft.Reset()
		c.showPassword = false
		c.mu.Unlock()
		c.deps.notify(NoticeSuccess, "Login successful!")
		result = Result{Status: StatusSucceeded, Redirect: RouteHome}
	})
	if !alive {
		return Result{Status: StatusDropped}
	}
	return result
}
