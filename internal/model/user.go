// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// User はリモートAPIが返すユーザープロフィールを表す。
// APIは `_id` を返すが、古いレスポンスでは `id` の場合もあるため両方を受け付ける。
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// UnmarshalJSON は `_id` と `id` のどちらのキーでもIDを読み取る。
func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		UnderscoreID string `json:"_id"`
		ID           string `json:"id"`
		Name         string `json:"name"`
		Email        string `json:"email"`
		Image        string `json:"image"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = raw.UnderscoreID
	if u.ID == "" {
		u.ID = raw.ID
	}
	u.Name = raw.Name
	u.Email = raw.Email
	u.Image = raw.Image
	return nil
}

// Session は認証トークンとキャッシュ済みユーザーの組。
// トークンが空でなければUserは必ず非nilである。
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// Valid はセッションが不変条件（トークンあり ⇒ ユーザーあり）を満たし、
// かつログイン状態であるかを返す。
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.User != nil
}

// WebSession はBFFのブラウザCookieに紐づくサーバー側セッション行を表す。
// ログイン前はTokenが空、Userがnilの匿名セッションとして存在する。
type WebSession struct {
	ID        string
	Token     string
	User      *User
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Authenticated はリモートAPIのトークンを保持しているかを返す。
func (w *WebSession) Authenticated() bool {
	return w != nil && w.Token != "" && w.User != nil
}
