package security

import (
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/postboard/internal/model"
)

// URLValidator はURLの静的検証を行う。EgressGuardの部分集合。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// PostSanitizer はBFFがブラウザへ返す投稿のユーザー入力をサニタイズする。
//   - タイトル・コメント・ユーザー名: すべてのタグを除去したプレーンテキスト
//   - 本文: p, br, strong, em, a のみ許可。aには target="_blank" と rel="noopener noreferrer" を付与
//   - 画像URL: httpsかつ内部ネットワーク宛てでないもののみ残し、それ以外は空にする
type PostSanitizer struct {
	plain *bluemonday.Policy
	rich  *bluemonday.Policy
	urls  URLValidator
}

// NewPostSanitizer はPostSanitizerを生成する。
func NewPostSanitizer(urls URLValidator) *PostSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.RequireParseableURLs(true)
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)
	rich.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &PostSanitizer{
		plain: bluemonday.StrictPolicy(),
		rich:  rich,
		urls:  urls,
	}
}

// Text はタグを除去したテキストを返す。
func (s *PostSanitizer) Text(raw string) string {
	return s.plain.Sanitize(raw)
}

// RichText は本文用の許可リストでサニタイズする。
func (s *PostSanitizer) RichText(raw string) string {
	return s.rich.Sanitize(raw)
}

// ImageURL は表示してよい画像URLならそのまま、そうでなければ空文字列を返す。
func (s *PostSanitizer) ImageURL(raw string) string {
	if raw == "" || !strings.HasPrefix(strings.ToLower(raw), "https://") {
		return ""
	}
	if err := s.urls.ValidateURL(raw); err != nil {
		return ""
	}
	return raw
}

// Post はサニタイズ済みの複製を返す。元の投稿は変更しない。
func (s *PostSanitizer) Post(p *model.Post) *model.Post {
	if p == nil {
		return nil
	}
	c := p.Clone()
	c.Title = s.Text(c.Title)
	c.Description = s.RichText(c.Description)
	c.Image = s.ImageURL(c.Image)
	c.Author = s.author(c.Author)
	for i := range c.Comments {
		c.Comments[i].Text = s.Text(c.Comments[i].Text)
		c.Comments[i].Author = s.author(c.Comments[i].Author)
	}
	return c
}

// Posts は一覧をまとめてサニタイズする。
func (s *PostSanitizer) Posts(posts []*model.Post) []*model.Post {
	out := make([]*model.Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, s.Post(p))
	}
	return out
}

func (s *PostSanitizer) author(a model.AuthorRef) model.AuthorRef {
	a.Name = s.Text(a.Name)
	a.Image = s.ImageURL(a.Image)
	return a
}
