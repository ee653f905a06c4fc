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

// Feed は全ユーザーの投稿一覧画面のコントローラ。
// 新規投稿・コメント・いいねの結果は再取得せずにリストへ反映する。
type Feed struct {
	deps          Deps
	posts         *reconcile.Collection
	postSchema    *validation.Schema
	commentSchema *validation.Schema

	loadLC    *Lifecycle
	postLC    *Lifecycle
	commentLC *Lifecycle
	likes     gate

	mu            sync.Mutex
	closed        bool
	loaded        bool
	loadErr       *model.APIError
	postDraft     form.Draft
	commentDraft  form.Draft
	commentTarget string
}

// NewFeed はFeedコントローラを生成する。
func NewFeed(deps Deps) *Feed {
	deps = deps.withDefaults()
	return &Feed{
		deps:          deps,
		posts:         reconcile.NewCollection(deps.Metrics),
		postSchema:    validation.PostSchema(),
		commentSchema: validation.CommentSchema(),
		loadLC:        NewLifecycle(nil),
		postLC:        NewLifecycle(nil),
		commentLC:     NewLifecycle(nil),
		postDraft:     newPostDraft(),
		commentDraft:  form.New(validation.FieldText),
	}
}

func newPostDraft() form.Draft {
	return form.New(validation.FieldTitle, validation.FieldDescription, validation.FieldImage)
}

// Close はコントローラを破棄する。送信中の要求の応答は状態を変更せずに捨てる。
func (c *Feed) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.loadLC.Close()
	c.postLC.Close()
	c.commentLC.Close()
}

// Load はフィードを取得してリスト全体を置き換える。404は空のフィードとして扱う。
func (c *Feed) Load(ctx context.Context) Result {
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

	posts, err := c.deps.API.ListPosts(ctx, lease)
	ok := err == nil || model.IsNotFound(err)

	result := Result{Status: StatusDropped}
	alive := c.loadLC.settle(ok, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !lease.Valid() {
			// 取得中にログイン状態が変わった
			return
		}
		if !ok {
			result = failure(err)
			c.loadErr = result.Err
			return
		}
		c.posts.Replace(posts)
		c.loaded = true
		c.loadErr = nil
		result = Result{Status: StatusSucceeded}
	})
	if !alive {
		return Result{Status: StatusDropped}
	}
	return result
}

// Loading は一覧を取得中かを返す。
func (c *Feed) Loading() bool { return c.loadLC.Busy() }

// Reset は表示中の一覧と入力中のフォームを破棄し、未取得の状態に戻す。
// 発行済みのいいねのチケットは無効になる。
func (c *Feed) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts.Replace(nil)
	c.loaded = false
	c.loadErr = nil
	c.postDraft = newPostDraft()
	c.commentDraft = form.New(validation.FieldText)
	c.commentTarget = ""
}

// Loaded は一度でも一覧の取得に成功したかを返す。
func (c *Feed) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// LoadError は直近の一覧取得の失敗を返す。
func (c *Feed) LoadError() *model.APIError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadErr
}

// Posts は表示中の投稿一覧を返す。
func (c *Feed) Posts() []*model.Post {
	return c.posts.Snapshot()
}

// Post はIDに一致する表示中の投稿を返す。
func (c *Feed) Post(id string) (*model.Post, bool) {
	return c.posts.Find(id)
}

// PostDraft は新規投稿フォームの入力内容を返す。
func (c *Feed) PostDraft() form.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.postDraft
}

// SetPostField は新規投稿フォームのテキストフィールドを更新する。
func (c *Feed) SetPostField(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postDraft = c.postDraft.With(name, value)
}

// SetPostImage は新規投稿の画像を設定する。nilで解除する。
func (c *Feed) SetPostImage(u *model.Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postDraft = c.postDraft.With(validation.FieldImage, u)
}

// SubmitPost は新規投稿を作成し、成功時はリストの先頭に追加する。
func (c *Feed) SubmitPost(ctx context.Context) Result {
	if !c.postLC.begin() {
		return Result{Status: StatusIgnored}
	}

	draft := c.PostDraft()
	res := c.postSchema.Validate(draft.Values())
	if !res.Valid() {
		c.mu.Lock()
		c.postDraft = c.postDraft.WithErrors(res.Errors)
		c.mu.Unlock()
		c.postLC.reject()
		c.deps.Metrics.RecordValidationFailure(c.postSchema.Name())
		return invalid(res.Errors)
	}

	c.postLC.submit()
	lease, fail := c.deps.acquire()
	if fail != nil {
		c.postLC.settle(false, nil)
		return *fail
	}
	defer lease.Release()

	c.deps.notify(NoticeLoading, "Adding post...")
	image, _ := draft.Value(validation.FieldImage).(*model.Upload)
	created, err := c.deps.API.CreatePost(ctx, lease, gateway.PostInput{
		Title:       draft.String(validation.FieldTitle),
		Description: draft.String(validation.FieldDescription),
		Image:       image,
	})

	var result Result
	alive := c.postLC.settle(err == nil, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			result = failure(err)
			c.postDraft = c.postDraft.WithFormError(message(result.Err, "An error occurred while adding the post."))
			c.deps.notify(NoticeError, message(result.Err, "Failed to add post."))
			return
		}
		c.posts.Settle(reconcile.Ticket{}, reconcile.Created(created))
		c.postDraft = c.postDraft.Reset()
		c.deps.notify(NoticeSuccess, "Post added successfully!")
		result = Result{Status: StatusSucceeded}
	})
	if !alive {
		return Result{Status: StatusDropped}
	}
	return result
}

// OpenComments はコメント入力の対象投稿を選択する。表示中でない投稿ならfalse。
func (c *Feed) OpenComments(postID string) bool {
	if _, ok := c.posts.Find(postID); !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commentTarget = postID
	c.commentDraft = form.New(validation.FieldText)
	return true
}

// CloseComments はコメント入力を閉じ、入力中のテキストを破棄する。
func (c *Feed) CloseComments() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commentTarget = ""
	c.commentDraft = form.New(validation.FieldText)
}

// CommentTarget はコメント入力中の投稿IDを返す。
func (c *Feed) CommentTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commentTarget
}

func (c *Feed) CommentDraft() form.Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commentDraft
}

func (c *Feed) SetCommentText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commentDraft = c.commentDraft.With(validation.FieldText, text)
}

// SubmitComment は選択中の投稿にコメントを追加し、成功時は入力を閉じる。
func (c *Feed) SubmitComment(ctx context.Context) Result {
	if !c.commentLC.begin() {
		return Result{Status: StatusIgnored}
	}

	c.mu.Lock()
	target, draft := c.commentTarget, c.commentDraft
	c.mu.Unlock()

	if target == "" {
		c.commentLC.reject()
		return Result{Status: StatusIgnored}
	}
	res := c.commentSchema.Validate(draft.Values())
	if !res.Valid() {
		c.mu.Lock()
		c.commentDraft = c.commentDraft.WithErrors(res.Errors)
		c.mu.Unlock()
		c.commentLC.reject()
		c.deps.Metrics.RecordValidationFailure(c.commentSchema.Name())
		return invalid(res.Errors)
	}

	c.commentLC.submit()
	lease, fail := c.deps.acquire()
	if fail != nil {
		c.commentLC.settle(false, nil)
		return *fail
	}
	defer lease.Release()

	c.deps.notify(NoticeLoading, "Submitting comment...")
	ticket := c.posts.Begin(target, reconcile.KindComment)
	comment, err := c.deps.API.AddComment(ctx, lease, target, draft.String(validation.FieldText))

	var result Result
	alive := c.commentLC.settle(err == nil, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.posts.Abandon(ticket)
			result = failure(err)
			c.commentDraft = c.commentDraft.WithFormError(message(result.Err, "Failed to add comment"))
			c.deps.notify(NoticeError, message(result.Err, "Failed to add comment"))
			return
		}
		c.posts.Settle(ticket, reconcile.Commented(target, comment))
		if c.commentTarget == target {
			c.commentTarget = ""
			c.commentDraft = form.New(validation.FieldText)
		}
		c.deps.notify(NoticeSuccess, "Comment added successfully!")
		result = Result{Status: StatusSucceeded}
	})
	if !alive {
		c.posts.Abandon(ticket)
		return Result{Status: StatusDropped}
	}
	return result
}

// Like はいいねを切り替える。追加か取り消しかはサーバーが決め、
// 現在の状態は通知文言の選択にのみ使う。
// 同じ投稿へのいいねが送信中の間は無視し、別の投稿へのいいねは並行して送信できる。
func (c *Feed) Like(ctx context.Context, postID string) Result {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Result{Status: StatusIgnored}
	}

	post, ok := c.posts.Find(postID)
	if !ok {
		return Result{Status: StatusFailed, Err: model.NewNotFoundError(0, "Post not found.")}
	}
	if !c.likes.enter(postID) {
		return Result{Status: StatusIgnored}
	}
	defer c.likes.leave(postID)

	lease, fail := c.deps.acquire()
	if fail != nil {
		return *fail
	}
	defer lease.Release()

	liked := post.LikedBy(lease.User().ID)
	if liked {
		c.deps.notify(NoticeLoading, "UnLiking post...")
	} else {
		c.deps.notify(NoticeLoading, "Liking post...")
	}

	ticket := c.posts.Begin(postID, reconcile.KindLike)
	likes, err := c.deps.API.ToggleLike(ctx, lease, postID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.posts.Abandon(ticket)
		return Result{Status: StatusDropped}
	}
	if err != nil {
		c.posts.Abandon(ticket)
		r := failure(err)
		c.deps.notify(NoticeError, message(r.Err, "Failed to like post"))
		return r
	}

	c.posts.Settle(ticket, reconcile.Liked(postID, likes))
	if liked {
		c.deps.notify(NoticeSuccess, "Post unliked successfully")
	} else {
		c.deps.notify(NoticeSuccess, "Post liked successfully!")
	}
	return Result{Status: StatusSucceeded}
}

// LikeBusy は指定投稿へのいいねが送信中かを返す。
func (c *Feed) LikeBusy(postID string) bool {
	return c.likes.busy(postID)
}

// LikeLabel はログインユーザーのいいね状態に応じたボタン文言を返す。
func (c *Feed) LikeLabel(p *model.Post) string {
	return LikeLabel(p, c.deps.Store.User())
}

// LikeLabel は "Liked" か "Like" を返す。
func LikeLabel(p *model.Post, u *model.User) string {
	if u != nil && p.LikedBy(u.ID) {
		return "Liked"
	}
	return "Like"
}

// LikesCount は "1 Like" / "3 Likes" 形式の件数表示を返す。
func LikesCount(p *model.Post) string {
	return model.CountLabel(len(p.Likes), "Like", "Likes")
}

// CommentsCount は "1 Comment" / "3 Comments" 形式の件数表示を返す。
func CommentsCount(p *model.Post) string {
	return model.CountLabel(len(p.Comments), "Comment", "Comments")
}
