package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// AuthorRef は投稿・コメントの作成者への参照。
// APIはpopulate済みのオブジェクトか、ユーザーIDの文字列のどちらかを返す。
type AuthorRef struct {
	ID    string
	Name  string
	Image string
}

// UnmarshalJSON は文字列IDとオブジェクトの両方の形式を受け付ける。
func (a *AuthorRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = AuthorRef{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*a = AuthorRef{ID: id}
		return nil
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("invalid author reference: %w", err)
	}
	*a = AuthorRef{ID: u.ID, Name: u.Name, Image: u.Image}
	return nil
}

// MarshalJSON は常にオブジェクト形式で出力する。
func (a AuthorRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID    string `json:"_id"`
		Name  string `json:"name,omitempty"`
		Image string `json:"image,omitempty"`
	}{a.ID, a.Name, a.Image})
}

// Comment は投稿へのコメント。クライアントからは追記のみ行う。
type Comment struct {
	ID        string    `json:"_id"`
	Author    AuthorRef `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post はフィードに表示される投稿。
// Versionはサーバーが付与する単調増加のバージョン（`__v`）で、
// 古いレスポンスによる上書きの検出に使う。
type Post struct {
	ID          string    `json:"_id"`
	Author      AuthorRef `json:"userId"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description"`
	Image       string    `json:"image,omitempty"`
	Likes       []string  `json:"likes"`
	Comments    []Comment `json:"comments"`
	CreatedAt   time.Time `json:"createdAt"`
	Version     int64     `json:"__v"`
}

// LikedBy は指定ユーザーがいいね済みかを返す。
func (p *Post) LikedBy(userID string) bool {
	if p == nil || userID == "" {
		return false
	}
	for _, id := range p.Likes {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone はスライスを含めて複製した投稿を返す。
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	if p.Likes != nil {
		c.Likes = append([]string(nil), p.Likes...)
	}
	if p.Comments != nil {
		c.Comments = append([]Comment(nil), p.Comments...)
	}
	return &c
}

// Upload はmultipartで送信する画像ファイル。
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Present はファイルが選択されているかを返す。
func (u *Upload) Present() bool {
	return u != nil && len(u.Data) > 0
}

// CountLabel は件数と単数・複数形のラベルを組み立てる。
// 例: CountLabel(1, "Like", "Likes") == "1 Like"
func CountLabel(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
