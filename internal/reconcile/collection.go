package reconcile

import (
	"sync"

	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
)

// Collection はビューが所有する投稿リスト。複数の要求が並行して完了しても安全に扱える。
//
// 同じ投稿に対する like / update は要求ごとにチケットを発行し、
// 後から発行された要求の結果が適用済みであれば、先に発行された要求の結果は
// 古いものとして破棄する。comment と delete は常に適用する。
type Collection struct {
	metrics metrics.Recorder

	mu      sync.Mutex
	posts   []*model.Post
	seq     uint64
	epoch   uint64 // Replaceのたびに進む
	issued  map[ticketKey]uint64
	applied map[ticketKey]uint64 // 結果を適用した最新のチケット
	done    map[ticketKey]uint64 // 完了（成功・失敗問わず）した最新のチケット
}

type ticketKey struct {
	postID string
	kind   Kind
}

// Ticket はBeginで発行した要求の識別子。
type Ticket struct {
	key   ticketKey
	seq   uint64
	epoch uint64
}

// NewCollection は空のCollectionを生成する。
func NewCollection(rec metrics.Recorder) *Collection {
	return &Collection{
		metrics: metrics.OrNop(rec),
		issued:  make(map[ticketKey]uint64),
		applied: make(map[ticketKey]uint64),
		done:    make(map[ticketKey]uint64),
	}
}

// Replace はリスト全体を置き換える（一覧の取得完了時）。発行済みチケットは無効になる。
func (c *Collection) Replace(posts []*model.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.posts = append([]*model.Post(nil), posts...)
	c.issued = make(map[ticketKey]uint64)
	c.applied = make(map[ticketKey]uint64)
	c.done = make(map[ticketKey]uint64)
}

// Begin は投稿への要求を開始する前に呼び、Settleに渡すチケットを返す。
func (c *Collection) Begin(postID string, kind Kind) Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	key := ticketKey{postID: postID, kind: kind}
	c.issued[key] = c.seq
	return Ticket{key: key, seq: c.seq, epoch: c.epoch}
}

// Pending はpostIDに対するkindの要求がまだ完了していないかを返す。
func (c *Collection) Pending(postID string, kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ticketKey{postID: postID, kind: kind}
	issued, ok := c.issued[key]
	return ok && c.done[key] < issued
}

// Settle は要求の結果を適用する。チケットなし（ゼロ値）の場合は順序を検査しない。
func (c *Collection) Settle(t Ticket, m Mutation) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.seq != 0 && (m.Kind == KindLike || m.Kind == KindUpdate) {
		if t.epoch != c.epoch || t.seq < c.applied[t.key] {
			c.complete(t)
			c.metrics.RecordReconcile(string(m.Kind), string(OutcomeStale))
			return OutcomeStale
		}
	}

	posts, outcome := Apply(c.posts, m)
	c.posts = posts
	if t.seq != 0 {
		if outcome == OutcomeApplied && t.seq > c.applied[t.key] {
			c.applied[t.key] = t.seq
		}
		c.complete(t)
	}
	c.metrics.RecordReconcile(string(m.Kind), string(outcome))
	return outcome
}

// Abandon は結果を適用せずに要求を完了扱いにする（要求が失敗した場合）。
func (c *Collection) Abandon(t Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.seq != 0 {
		c.complete(t)
	}
}

func (c *Collection) complete(t Ticket) {
	if t.seq > c.done[t.key] {
		c.done[t.key] = t.seq
	}
}

// Snapshot は現在のリストのコピーを返す。投稿自体は共有する。
func (c *Collection) Snapshot() []*model.Post {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Post(nil), c.posts...)
}

// Find はIDに一致する投稿を返す。
func (c *Collection) Find(id string) (*model.Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := indexOf(c.posts, id); i >= 0 {
		return c.posts[i], true
	}
	return nil, false
}

// Len は投稿数を返す。
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.posts)
}
