package gateway

import (
	"context"
	"errors"

	"github.com/hitoshi/postboard/internal/model"
)

// SignUpInput はサインアップの入力。Imageはプロフィール画像。
type SignUpInput struct {
	Name     string
	Email    string
	Password string
	Image    *model.Upload
}

// PostInput は投稿の作成・編集の入力。Imageは任意。
type PostInput struct {
	Title       string
	Description string
	Image       *model.Upload
}

func (in PostInput) request(op Operation, id string) Request {
	return Request{
		Op: op,
		ID: id,
		Fields: map[string]string{
			"title":       in.Title,
			"description": in.Description,
		},
		Upload: in.Image,
	}
}

type postEnvelope struct {
	Data *model.Post `json:"data"`
}

type postsEnvelope struct {
	Data []*model.Post `json:"data"`
}

// Login はメールアドレスとパスワードでログインし、トークンとユーザーを返す。
func (c *Client) Login(ctx context.Context, email, password string) (*model.Session, error) {
	var sess model.Session
	status, err := c.call(ctx, nil, Request{
		Op:     OpLogin,
		Fields: map[string]string{"email": email, "password": password},
	}, &sess)
	if err != nil {
		return nil, err
	}
	if !sess.Valid() {
		return nil, c.malformed(OpLogin, status, errors.New("response has no token or user"))
	}
	return &sess, nil
}

// SignUp はアカウントを作成する。画像があればmultipartで送信する。
// 成功時のレスポンスボディは使わない。
func (c *Client) SignUp(ctx context.Context, in SignUpInput) error {
	_, err := c.call(ctx, nil, Request{
		Op: OpSignUp,
		Fields: map[string]string{
			"name":     in.Name,
			"email":    in.Email,
			"password": in.Password,
		},
		Upload: in.Image,
	}, nil)
	return err
}

// ListPosts は全ユーザーの投稿（フィード）を取得する。
func (c *Client) ListPosts(ctx context.Context, cred Credentials) ([]*model.Post, error) {
	return c.listPosts(ctx, cred, OpListPosts)
}

// ListUserPosts はログインユーザー自身の投稿を取得する。
func (c *Client) ListUserPosts(ctx context.Context, cred Credentials) ([]*model.Post, error) {
	return c.listPosts(ctx, cred, OpListUserPosts)
}

func (c *Client) listPosts(ctx context.Context, cred Credentials, op Operation) ([]*model.Post, error) {
	var env postsEnvelope
	if _, err := c.call(ctx, cred, Request{Op: op}, &env); err != nil {
		return nil, err
	}
	posts := make([]*model.Post, 0, len(env.Data))
	for _, p := range env.Data {
		if p != nil {
			posts = append(posts, p)
		}
	}
	return posts, nil
}

// CreatePost は投稿を作成し、サーバーが返した投稿を返す。
func (c *Client) CreatePost(ctx context.Context, cred Credentials, in PostInput) (*model.Post, error) {
	return c.writePost(ctx, cred, in.request(OpCreatePost, ""))
}

// UpdatePost は投稿を編集し、サーバーが返した投稿を返す。
func (c *Client) UpdatePost(ctx context.Context, cred Credentials, id string, in PostInput) (*model.Post, error) {
	return c.writePost(ctx, cred, in.request(OpUpdatePost, id))
}

func (c *Client) writePost(ctx context.Context, cred Credentials, req Request) (*model.Post, error) {
	var env postEnvelope
	status, err := c.call(ctx, cred, req, &env)
	if err != nil {
		return nil, err
	}
	if env.Data == nil || env.Data.ID == "" {
		return nil, c.malformed(req.Op, status, errors.New("response has no post"))
	}
	return env.Data, nil
}

// DeletePost は投稿を削除する。
func (c *Client) DeletePost(ctx context.Context, cred Credentials, id string) error {
	_, err := c.call(ctx, cred, Request{Op: OpDeletePost, ID: id}, nil)
	return err
}

// ToggleLike はいいねを切り替え、サーバーが返した最新のいいね集合を返す。
// 追加か取り消しかはサーバーが決める。
func (c *Client) ToggleLike(ctx context.Context, cred Credentials, id string) ([]string, error) {
	var env struct {
		Data []string `json:"data"`
	}
	if _, err := c.call(ctx, cred, Request{Op: OpToggleLike, ID: id}, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		env.Data = []string{}
	}
	return env.Data, nil
}

// AddComment は投稿にコメントを追加し、作成されたコメントを返す。
func (c *Client) AddComment(ctx context.Context, cred Credentials, id, text string) (*model.Comment, error) {
	var env struct {
		Comment *model.Comment `json:"comment"`
	}
	status, err := c.call(ctx, cred, Request{
		Op:     OpAddComment,
		ID:     id,
		Fields: map[string]string{"text": text},
	}, &env)
	if err != nil {
		return nil, err
	}
	if env.Comment == nil {
		return nil, c.malformed(OpAddComment, status, errors.New("response has no comment"))
	}
	return env.Comment, nil
}
