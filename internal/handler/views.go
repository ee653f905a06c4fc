package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/postboard/internal/controller"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/session"
)

// ViewSet は1つのWebセッションに属するStoreと画面コントローラ一式。
// ブラウザのタブに相当し、同じCookieからのリクエストは同じViewSetを共有する。
type ViewSet struct {
	Store   *session.Store
	Login   *controller.Login
	SignUp  *controller.SignUp
	Feed    *controller.Feed
	Profile *controller.Profile
	Notices *controller.NoticeRecorder

	persister   *webSessionPersister
	unsubscribe func()
	lastUsed    atomic.Int64
}

func (v *ViewSet) touch(now time.Time) {
	v.lastUsed.Store(now.UnixNano())
}

func (v *ViewSet) idleSince() time.Time {
	return time.Unix(0, v.lastUsed.Load())
}

// watch はログイン状態の変化を購読し、前のユーザーの一覧を画面から消す。
// チャネルが閉じられると終了する。
func (v *ViewSet) watch(events <-chan session.Event, logger *slog.Logger) {
	for ev := range events {
		switch ev {
		case session.EventLogin, session.EventLogout:
			v.Feed.Reset()
			v.Profile.Reset()
			logger.Debug("views reset", slog.String("event", ev.String()))
		}
	}
}

// close は全コントローラを破棄する。送信中の要求の応答は捨てられる。
func (v *ViewSet) close() {
	if v.unsubscribe != nil {
		v.unsubscribe()
	}
	v.Login.Close()
	v.SignUp.Close()
	v.Feed.Close()
	v.Profile.Close()
}

// ViewRegistry はWebセッションIDごとのViewSetを管理する。
// プロセス内のキャッシュで、ログイン状態の正はweb_sessionsテーブルにある。
type ViewRegistry struct {
	api     controller.API
	repo    repository.WebSessionRepository
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time

	mu    sync.Mutex
	views map[string]*ViewSet
}

// NewViewRegistry はViewRegistryを生成する。
func NewViewRegistry(api controller.API, repo repository.WebSessionRepository, logger *slog.Logger, rec metrics.Recorder) *ViewRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewRegistry{
		api:     api,
		repo:    repo,
		logger:  logger,
		metrics: metrics.OrNop(rec),
		now:     time.Now,
		views:   make(map[string]*ViewSet),
	}
}

// Get はWebセッションに対応するViewSetを返す。
// 未生成ならStoreを作り、DBに保存されたログイン状態を復元する。
func (r *ViewRegistry) Get(ctx context.Context, ws *model.WebSession) (*ViewSet, error) {
	r.mu.Lock()
	if vs, ok := r.views[ws.ID]; ok {
		vs.touch(r.now())
		r.mu.Unlock()
		return vs, nil
	}
	r.mu.Unlock()

	vs, err := r.build(ctx, ws)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.views[ws.ID]; ok {
		// 並行リクエストが先に登録した
		vs.close()
		existing.touch(r.now())
		return existing, nil
	}
	r.views[ws.ID] = vs
	return vs, nil
}

func (r *ViewRegistry) build(ctx context.Context, ws *model.WebSession) (*ViewSet, error) {
	logger := r.logger.With(slog.String("web_session_id", ws.ID))
	persister := &webSessionPersister{repo: r.repo, id: ws.ID, seed: ws}
	store := session.NewStore(persister, logger)
	if err := store.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore web session %s: %w", ws.ID, err)
	}

	notices := &controller.NoticeRecorder{}
	deps := controller.Deps{
		API:      r.api,
		Store:    store,
		Notifier: controller.Multi(notices, controller.LogNotifier{Logger: logger}),
		Logger:   logger,
		Metrics:  r.metrics,
	}
	vs := &ViewSet{
		Store:     store,
		Login:     controller.NewLogin(deps),
		SignUp:    controller.NewSignUp(deps),
		Feed:      controller.NewFeed(deps),
		Profile:   controller.NewProfile(deps),
		Notices:   notices,
		persister: persister,
	}
	events, cancel := store.Subscribe()
	vs.unsubscribe = cancel
	go vs.watch(events, logger)

	vs.touch(r.now())
	return vs, nil
}

// Rekey はoldのViewSetを新しいWebセッションwsへ移し、以降の保存先をwsの行に切り替える。
// oldがログイン済みならその状態をwsの行へ複製する。oldの行は呼び出し側が削除する。
func (r *ViewRegistry) Rekey(ctx context.Context, old, ws *model.WebSession) (*ViewSet, error) {
	vs, err := r.Get(ctx, old)
	if err != nil {
		return nil, err
	}
	if lease, err := vs.Store.Acquire(); err == nil {
		user := lease.User()
		err := r.repo.SaveLogin(ctx, ws.ID, lease.Token(), &user)
		lease.Release()
		if err != nil {
			return nil, fmt.Errorf("failed to copy login state to web session %s: %w", ws.ID, err)
		}
	}
	vs.persister.rebind(ws.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.views[old.ID] == vs {
		delete(r.views, old.ID)
	}
	r.views[ws.ID] = vs
	vs.touch(r.now())
	return vs, nil
}

// Drop はViewSetを破棄する。存在しなければfalseを返す。
func (r *ViewRegistry) Drop(id string) bool {
	r.mu.Lock()
	vs, ok := r.views[id]
	delete(r.views, id)
	r.mu.Unlock()

	if ok {
		vs.close()
	}
	return ok
}

// EvictIdle はttl以上使われていないViewSetを破棄し、件数を返す。
// 解放されていないLeaseがあるViewSetは要求の途中なので残す。
func (r *ViewRegistry) EvictIdle(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var idle []*ViewSet
	for id, vs := range r.views {
		if vs.idleSince().Before(cutoff) && vs.Store.Refs() == 0 {
			idle = append(idle, vs)
			delete(r.views, id)
		}
	}
	r.mu.Unlock()

	for _, vs := range idle {
		vs.close()
	}
	return len(idle)
}

// Len は保持中のViewSetの数を返す。
func (r *ViewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// webSessionPersister はStoreの永続化先をweb_sessionsの1行に結びつける。
type webSessionPersister struct {
	repo repository.WebSessionRepository
	id   string

	mu sync.Mutex
	// seed はミドルウェアが読み込み済みの行。初回のLoadで1回だけ使う。
	seed *model.WebSession
}

func (p *webSessionPersister) Load(ctx context.Context) (*model.Session, error) {
	p.mu.Lock()
	ws := p.seed
	p.seed = nil
	p.mu.Unlock()

	if ws == nil {
		found, err := p.repo.FindByID(ctx, p.target())
		if err != nil {
			return nil, err
		}
		ws = found
	}
	if !ws.Authenticated() {
		return nil, nil
	}
	return &model.Session{Token: ws.Token, User: ws.User}, nil
}

func (p *webSessionPersister) Save(ctx context.Context, s *model.Session) error {
	return p.repo.SaveLogin(ctx, p.target(), s.Token, s.User)
}

func (p *webSessionPersister) Clear(ctx context.Context) error {
	return p.repo.ClearLogin(ctx, p.target())
}

func (p *webSessionPersister) target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// rebind は保存先の行を切り替える。
func (p *webSessionPersister) rebind(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}
