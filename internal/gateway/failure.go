package gateway

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/postboard/internal/model"
)

// failure は非2xxレスポンスをカテゴリ別のAPIErrorに変換する。
//   - 401: 認証エラー（呼び出し元がログイン画面へ誘導）
//   - 404: NotFound（一覧では空状態として扱う）
//   - その他: サーバーエラー
func failure(status int, contentType string, body []byte, fallback string) *model.APIError {
	msg := serverMessage(contentType, body)
	if msg == "" {
		msg = fallback
	}

	switch status {
	case http.StatusUnauthorized:
		return model.NewUnauthenticatedError(status, msg)
	case http.StatusNotFound:
		return model.NewNotFoundError(status, msg)
	default:
		return model.NewServerError(status, msg)
	}
}

// serverMessage はレスポンスボディからサーバー提供のメッセージを取り出す。
// JSONの message / error フィールド、HTMLエラーページの <title> の順に探す。
func serverMessage(contentType string, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "text/html" || (mediaType == "" && body[0] == '<') {
		return htmlTitle(body)
	}

	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	var s string
	if err := json.Unmarshal(payload.Error, &s); err == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}

// htmlTitle はHTMLドキュメントの <title> テキストを返す。
// ゲートウェイやCDNが返すHTMLエラーページ向け。
func htmlTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var title string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			title = strings.Join(strings.Fields(sb.String()), " ")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
