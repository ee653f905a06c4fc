package controller

import (
	"context"
	"sync"

	"github.com/hitoshi/postboard/internal/form"
	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/reconcile"
	"github.com/hitoshi/postboard/internal/validation"
)

// プロフィール画面の空状態・エラー表示の文言。
const (
	EmptyProfileMessage     = "You do not have any posts yet."
	EmptyAfterDeleteMessage = "No posts here yet, be the first to share something awesome!"
	ProfileLoadErrorMessage = "An error occurred while fetching posts."
)

// Profile はログインユーザー自身の投稿一覧画面のコントローラ。
// Feedとは独立に一覧を取得し、編集・削除の結果をリストへ反映する。
type Profile struct {
	deps   Deps
	posts  *reconcile.Collection
	schema *validation.Schema

	loadLC   *Lifecycle
	editLC   *Lifecycle
	deleteLC *Lifecycle

	mu        sync.Mutex
	closed    bool
	empty     string
	loadErr   string
	editing   string
	editDraft form.Draft
}

// NewProfile はProfileコントローラを生成する。
func NewProfile(deps Deps) *Profile {
	deps = deps.withDefaults()
	return &Profile{
		deps:      deps,
		posts:     reconcile.NewCollection(deps.Metrics),
		schema:    validation.PostSchema(),
		loadLC:    NewLifecycle(nil),
		editLC:    NewLifecycle(nil),
		deleteLC:  NewLifecycle(nil),
		editDraft: newPostDraft(),
	}
}

// Close はコントローラを破棄する。
func (c *Profile) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.loadLC.Close()
	c.editLC.Close()
	c.deleteLC.Close()
}

// Load は自分の投稿を取得する。404または0件は失敗ではなく空状態として表示する。
func (c *Profile) Load(ctx context.Context) Result {
	if !c.loadLC.begin() {
		return Result{Status: StatusIgnored}
	}
	c.loadLC.submit()

	lease, fail := c.deps.acquire()
	if fail != nil {
		c.loadLC.settle(false, nil)
		return *fail
	}
	defer lease.Release()

	posts, err := c.deps.API.ListUserPosts(ctx, lease)
	ok := err == nil || model.IsNotFound(err)

	result := Result{Status: StatusDropped}
	alive := c.loadLC.settle(ok, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !lease.Valid() {
			return
		}
		if !ok {
			result = failure(err)
			if result.Redirect == "" {
				c.loadErr = ProfileLoadErrorMessage
			}
			return
		}
		c.posts.Replace(posts)
		c.loadErr = ""
		c.empty = ""
		if len(posts) == 0 {
			c.empty = EmptyProfileMessage
		}
		result = Result{Status: StatusSucceeded}
	})
	if !alive {
		return Result{Status: StatusDropped}
	}
	return result
}

// Loading は一覧を取得中かを返す。
func (c *Profile) Loading() bool { return c.loadLC.Busy() }

// Reset は前のユーザーの一覧・空状態・編集中のフォームを破棄する。
func (c *Profile) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts.Replace(nil)
	c.empty = ""
	c.loadErr = ""
	c.editing = ""
	c.editDraft = newPostDraft()
}

// EmptyMessage は空状態の文言を返す。投稿があれば空文字列。
func (c *Profile) EmptyMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.empty
}

// LoadError は一覧取得失敗時のエラーバナー文言を返す。
func (c *Profile) LoadError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadErr
}

// Posts は表示中の投稿一覧を返す。
func (c *Profile) Posts() []*model.Post {
	return c.posts.Snapshot()
}

// BeginEdit は編集対象を選択し、フォームに現在のタイトルと本文を設定する。画像は空にする。
func (c *Profile) BeginEdit(postID string) bool {
	p, ok := c.posts.Find(postID)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editing = postID
	c.editDraft = newPostDraft().
		With(validation.FieldTitle, p.Title).
		With(validation.FieldDescription, p.Description)
	return true
}

// CancelEdit は編集を中止する。
func (c *Profile) CancelEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editing = ""
	c.editDraft = newPostDraft()
}

// Editing は編集中の投稿IDを返す。
func (c *Profile) Editing() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editing
}

func (c *Profile) EditDraft() form.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editDraft
}

func (c *Profile) SetEditField(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editDraft = c.editDraft.With(name, value)
}

func (c *Profile) SetEditImage(u *model.Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editDraft = c.editDraft.With(validation.FieldImage, u)
}

// SubmitEdit は編集内容を送信し、サーバーが返した投稿で置き換える。
func (c *Profile) SubmitEdit(ctx context.Context) Result {
	if !c.editLC.begin() {
		return Result{Status: StatusIgnored}
	}

	c.mu.Lock()
	target, draft := c.editing, c.editDraft
	c.mu.Unlock()

	if target == "" {
		c.editLC.reject()
		return Result{Status: StatusIgnored}
	}
	res := c.schema.Validate(draft.Values())
	if !res.Valid() {
		c.mu.Lock()
		c.editDraft = c.editDraft.WithErrors(res.Errors)
		c.mu.Unlock()
		c.editLC.reject()
		c.deps.Metrics.RecordValidationFailure(c.schema.Name())
		return invalid(res.Errors)
	}

	c.editLC.submit()
	lease, fail := c.deps.acquire()
	if fail != nil {
		c.editLC.settle(false, nil)
		return *fail
	}
	defer lease.Release()

	c.deps.notify(NoticeLoading, "Updating post...")
	ticket := c.posts.Begin(target, reconcile.KindUpdate)
	image, _ := draft.Value(validation.FieldImage).(*model.Upload)
	updated, err := c.deps.API.UpdatePost(ctx, lease, target, gateway.PostInput{
		Title:       draft.String(validation.FieldTitle),
		Description: draft.String(validation.FieldDescription),
		Image:       image,
	})

	var result Result
	alive := c.editLC.settle(err == nil, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.posts.Abandon(ticket)
			result = failure(err)
			c.editDraft = c.editDraft.WithFormError(message(result.Err, "Failed to update post"))
			c.deps.notify(NoticeError, "Failed to update post")
			return
		}
		c.posts.Settle(ticket, reconcile.Updated(updated))
		if c.editing == target {
			c.editing = ""
			c.editDraft = newPostDraft()
		}
		c.deps.notify(NoticeSuccess, "Post updated successfully!")
		result = Result{Status: StatusSucceeded}
	})
	if !alive {
		c.posts.Abandon(ticket)
		return Result{Status: StatusDropped}
	}
	return result
}

// Updating は指定投稿の編集を送信中かを返す。
func (c *Profile) Updating(postID string) bool {
	return c.posts.Pending(postID, reconcile.KindUpdate)
}

// Deleting は削除要求を送信中かを返す。
func (c *Profile) Deleting() bool { return c.deleteLC.Busy() }

// Delete は投稿を削除する。最後の投稿を削除すると空状態になる。
func (c *Profile) Delete(ctx context.Context, postID string) Result {
	if !c.deleteLC.begin() {
		return Result{Status: StatusIgnored}
	}
	c.deleteLC.submit()

	lease, fail := c.deps.acquire()
	if fail != nil {
		c.deleteLC.settle(false, nil)
		return *fail
	}
	defer lease.Release()

	c.deps.notify(NoticeLoading, "Deleting post...")
	err := c.deps.API.DeletePost(ctx, lease, postID)

	var result Result
	alive := c.deleteLC.settle(err == nil, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			result = failure(err)
			c.deps.notify(NoticeError, "Failed to delete post")
			return
		}
		c.posts.Settle(reconcile.Ticket{}, reconcile.Deleted(postID))
		if c.editing == postID {
			c.editing = ""
			c.editDraft = newPostDraft()
		}
		if c.posts.Len() == 0 {
			c.empty = EmptyAfterDeleteMessage
		}
		c.deps.notify(NoticeSuccess, "Post deleted successfully!")
		result = Result{Status: StatusSucceeded}
	})
	if !alive {
		return Result{Status: StatusDropped}
	}
	return result
}
