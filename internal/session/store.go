// Package session は認証トークンとキャッシュ済みユーザープロフィールを保持する。
//
// Store はセッションの唯一の所有者で、ログインで書き込まれ、ログアウトで破棄される。
// 認証付き操作には Acquire で得た Lease を明示的に渡す。Teardown は世代を進めるため、
// 取得済みの Lease はそれ以降 Valid() が false になる。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/postboard/internal/model"
)

var (
	// ErrNoSession はログインしていない状態でAcquireした場合のエラー。
	ErrNoSession = errors.New("session: not logged in")
	// ErrInvalidSession はトークンがあるのにユーザーがないセッションを保存しようとした場合のエラー。
	ErrInvalidSession = errors.New("session: token without cached user")
)

// Persister はセッションの永続化先。
// CLIではファイル、BFFではブラウザCookieに紐づくDB行が実装する。
type Persister interface {
	// Load は保存済みセッションを返す。存在しない場合はnilを返す。
	Load(ctx context.Context) (*model.Session, error)
	Save(ctx context.Context, s *model.Session) error
	Clear(ctx context.Context) error
}

// Event はログイン状態の変化を購読者に通知するイベント。
type Event int

const (
	// EventLogin はセッションが保存されたことを示す。
	EventLogin Event = iota + 1
	// EventLogout はセッションが破棄されたことを示す。
	EventLogout
)

func (e Event) String() string {
	switch e {
	case EventLogin:
		return "login"
	case EventLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Store はセッションを保持し、ログイン状態の変化をブロードキャストする。
type Store struct {
	persister Persister
	logger    *slog.Logger

	mu          sync.Mutex
	current     *model.Session
	generation  uint64
	refs        int
	subscribers map[chan Event]struct{}
}

// NewStore はStoreを生成する。保存済みセッションの読み込みはRestoreで行う。
func NewStore(persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		persister:   persister,
		logger:      logger,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Restore は永続化先からセッションを読み込む。
// 不変条件を満たさない保存データは破棄して未ログイン状態とする。
func (s *Store) Restore(ctx context.Context) error {
	sess, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess != nil && !sess.Valid() {
		s.logger.Warn("discarding persisted session without cached user")
		sess = nil
	}
	s.current = cloneSession(sess)
	s.generation++
	return nil
}

// Save はログイン成功時のセッションを保存し、EventLoginを通知する。
func (s *Store) Save(ctx context.Context, sess *model.Session) error {
	if !sess.Valid() {
		return ErrInvalidSession
	}
	if err := s.persister.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	s.mu.Lock()
	s.current = cloneSession(sess)
	s.generation++
	s.mu.Unlock()

	s.logger.Info("session stored", slog.String("user_id", sess.User.ID))
	s.broadcast(EventLogin)
	return nil
}

// Teardown はセッションを破棄し、EventLogoutを通知する。
// 取得済みのLeaseは以降無効になる。
func (s *Store) Teardown(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.generation++
	outstanding := s.refs
	s.mu.Unlock()

	err := s.persister.Clear(ctx)

	s.logger.Info("session torn down", slog.Int("outstanding_leases", outstanding))
	s.broadcast(EventLogout)

	if err != nil {
		return fmt.Errorf("failed to clear persisted session: %w", err)
	}
	return nil
}

// LoggedIn はログイン状態かを返す。
func (s *Store) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// User はキャッシュ済みユーザーの複製を返す。未ログインならnil。
func (s *Store) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	u := *s.current.User
	return &u
}

// Acquire は現在のセッションに対するLeaseを取得する。
// 呼び出し側は操作の完了後にReleaseすること。
func (s *Store) Acquire() (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, ErrNoSession
	}
	s.refs++
	return &Lease{
		store:      s,
		token:      s.current.Token,
		user:       *s.current.User,
		generation: s.generation,
	}, nil
}

// Refs は解放されていないLeaseの数を返す。
func (s *Store) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Subscribe はログイン状態の変化を受け取るチャネルを返す。
// 受信が追いつかない購読者へのイベントは破棄する。cancelでチャネルを閉じる。
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 4)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping session event for slow subscriber", slog.String("event", ev.String()))
		}
	}
}

func (s *Store) valid(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.generation == generation
}

func (s *Store) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs > 0 {
		s.refs--
	}
}

// Lease はセッションへの参照カウント付きハンドル。
// 認証付きの各操作に明示的に渡す。
type Lease struct {
	store      *Store
	token      string
	user       model.User
	generation uint64
	released   atomic.Bool
}

// Token はBearerトークンを返す。
func (l *Lease) Token() string {
	return l.token
}

// User は取得時点のキャッシュ済みユーザーを返す。
func (l *Lease) User() model.User {
	return l.user
}

// Valid はLease取得後にTeardownや再ログインが行われていないかを返す。
func (l *Lease) Valid() bool {
	return !l.released.Load() && l.store.valid(l.generation)
}

// Release は参照を解放する。複数回呼んでも1回分だけ解放する。
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.store.release()
	}
}

func cloneSession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	c := &model.Session{Token: s.Token}
	if s.User != nil {
		u := *s.User
		c.User = &u
	}
	return c
}
