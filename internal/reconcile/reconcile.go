// Package reconcile はサーバーが確定したミューテーション結果を、
// 再取得せずにメモリ上の投稿リストへ最小限の差分として適用する。
package reconcile

import "github.com/hitoshi/postboard/internal/model"

// Kind はミューテーションの種類。
type Kind string

const (
	KindCreate  Kind = "create"
	KindUpdate  Kind = "update"
	KindDelete  Kind = "delete"
	KindLike    Kind = "like"
	KindComment Kind = "comment"
)

// Outcome は差分適用の結果。どの結果もエラーではない。
type Outcome string

const (
	// OutcomeApplied はリストが更新されたことを示す。
	OutcomeApplied Outcome = "applied"
	// OutcomeNoMatch は対象IDの投稿がなく、リストが変わらなかったことを示す。
	OutcomeNoMatch Outcome = "no_match"
	// OutcomeStale は保持している投稿より古い結果のため破棄したことを示す。
	OutcomeStale Outcome = "stale"
	// OutcomeDuplicate は作成済みIDの投稿が既にリストにあることを示す。
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInvalid は必要なデータを欠くミューテーションであることを示す。
	OutcomeInvalid Outcome = "invalid"
)

// Mutation はサーバーが返したミューテーション結果。
type Mutation struct {
	Kind    Kind
	PostID  string
	Post    *model.Post    // create, update
	Likes   []string       // like
	Comment *model.Comment // comment
}

// Created は作成結果を表すMutationを返す。
func Created(p *model.Post) Mutation {
	m := Mutation{Kind: KindCreate, Post: p}
	if p != nil {
		m.PostID = p.ID
	}
	return m
}

// Updated は編集結果を表すMutationを返す。
func Updated(p *model.Post) Mutation {
	m := Mutation{Kind: KindUpdate, Post: p}
	if p != nil {
		m.PostID = p.ID
	}
	return m
}

// Deleted は削除結果を表すMutationを返す。
func Deleted(postID string) Mutation {
	return Mutation{Kind: KindDelete, PostID: postID}
}

// Liked はいいね切り替え結果を表すMutationを返す。likesはサーバーが返した集合。
func Liked(postID string, likes []string) Mutation {
	return Mutation{Kind: KindLike, PostID: postID, Likes: likes}
}

// Commented はコメント追加結果を表すMutationを返す。
func Commented(postID string, c *model.Comment) Mutation {
	return Mutation{Kind: KindComment, PostID: postID, Comment: c}
}

// Apply はpostsにmを適用した新しいスライスを返す。
//   - 入力スライスと投稿は変更しない
//   - 対象外の投稿は同じポインタのまま残る
//   - 一致する投稿がなければpostsをそのまま返す
//   - update/like/comment は並び順を変えない
func Apply(posts []*model.Post, m Mutation) ([]*model.Post, Outcome) {
	switch m.Kind {
	case KindCreate:
		return applyCreate(posts, m)
	case KindUpdate:
		return applyUpdate(posts, m)
	case KindDelete:
		return applyDelete(posts, m)
	case KindLike:
		return replaceAt(posts, m.PostID, func(p *model.Post) *model.Post {
			c := p.Clone()
			c.Likes = append([]string{}, m.Likes...)
			return c
		})
	case KindComment:
		if m.Comment == nil {
			return posts, OutcomeInvalid
		}
		return replaceAt(posts, m.PostID, func(p *model.Post) *model.Post {
			c := p.Clone()
			c.Comments = append(c.Comments, *m.Comment)
			return c
		})
	default:
		return posts, OutcomeInvalid
	}
}

func applyCreate(posts []*model.Post, m Mutation) ([]*model.Post, Outcome) {
	if m.Post == nil || m.Post.ID == "" {
		return posts, OutcomeInvalid
	}
	if indexOf(posts, m.Post.ID) >= 0 {
		return posts, OutcomeDuplicate
	}
	out := make([]*model.Post, 0, len(posts)+1)
	out = append(out, m.Post)
	out = append(out, posts...)
	return out, OutcomeApplied
}

func applyUpdate(posts []*model.Post, m Mutation) ([]*model.Post, Outcome) {
	if m.Post == nil || m.Post.ID == "" {
		return posts, OutcomeInvalid
	}
	i := indexOf(posts, m.Post.ID)
	if i < 0 {
		return posts, OutcomeNoMatch
	}
	if m.Post.Version < posts[i].Version {
		return posts, OutcomeStale
	}
	out := append([]*model.Post(nil), posts...)
	out[i] = m.Post
	return out, OutcomeApplied
}

func applyDelete(posts []*model.Post, m Mutation) ([]*model.Post, Outcome) {
	i := indexOf(posts, m.PostID)
	if i < 0 {
		return posts, OutcomeNoMatch
	}
	out := make([]*model.Post, 0, len(posts)-1)
	out = append(out, posts[:i]...)
	out = append(out, posts[i+1:]...)
	return out, OutcomeApplied
}

func replaceAt(posts []*model.Post, id string, patch func(*model.Post) *model.Post) ([]*model.Post, Outcome) {
	if id == "" {
		return posts, OutcomeInvalid
	}
	i := indexOf(posts, id)
	if i < 0 {
		return posts, OutcomeNoMatch
	}
	out := append([]*model.Post(nil), posts...)
	out[i] = patch(posts[i])
	return out, OutcomeApplied
}

func indexOf(posts []*model.Post, id string) int {
	for i, p := range posts {
		if p != nil && p.ID == id {
			return i
		}
	}
	return -1
}
