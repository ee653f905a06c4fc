package controller

import (
	"context"
	"sync"

	"github.com/hitoshi/postboard/internal/form"
	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/validation"
)

// SignUp はアカウント作成画面のコントローラ。
type SignUp struct {
	deps   Deps
	lc     *Lifecycle
	schema *validation.Schema

	mu           sync.Mutex
	draft        form.Draft
	showPassword bool
}

// NewSignUp はSignUpコントローラを生成する。
func NewSignUp(deps Deps) *SignUp {
	return &SignUp{
		deps:   deps.withDefaults(),
		lc:     NewLifecycle(nil),
		schema: validation.SignUpSchema(),
		draft: form.New(
			validation.FieldName,
			validation.FieldEmail,
			validation.FieldPassword,
			validation.FieldImage,
		),
	}
}

func (c *SignUp) Draft() form.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetField はテキストフィールドの入力値を更新する。
func (c *SignUp) SetField(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = c.draft.With(name, value)
}

// SetImage はプロフィール画像を設定する。
func (c *SignUp) SetImage(u *model.Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = c.draft.With(validation.FieldImage, u)
}

func (c *SignUp) TogglePasswordVisibility() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showPassword = !c.showPassword
	return c.showPassword
}

func (c *SignUp) State() State { return c.lc.State() }

func (c *SignUp) Close() { c.lc.Close() }

// Submit は入力を検証してアカウントを作成する。成功時はログイン画面へ遷移する。
func (c *SignUp) Submit(ctx context.Context) Result {
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
	c.deps.notify(NoticeLoading, "Signing up...")

	image, _ := draft.Value(validation.FieldImage).(*model.Upload)
	err := c.deps.API.SignUp(ctx, gateway.SignUpInput{
		Name:     draft.String(validation.FieldName),
		Email:    draft.String(validation.FieldEmail),
		Password: draft.String(validation.FieldPassword),
		Image:    image,
	})

	var result Result
	alive := c.lc.settle(err == nil, func() {
		if err != nil {
			r := failure(err)
			r.Redirect = ""
			c.mu.Lock()
			c.draft = c.draft.WithFormError(message(r.Err, "Signup failed"))
			c.mu.Unlock()
			c.deps.notify(NoticeError, message(r.Err, "Signup failed!"))
			result = r
			return
		}

		c.mu.Lock()
		c.draft = c.draft.Reset()
		c.showPassword = false
		c.mu.Unlock()
		c.deps.notify(NoticeSuccess, "Signup successful!")
		result = Result{Status: StatusSucceeded, Redirect: RouteLogin}
	})
	if !alive {
		return Result{Status: StatusDropped}
	}
	return result
}
