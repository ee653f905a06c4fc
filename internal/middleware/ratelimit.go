package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/postboard/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // API全般のバーストサイズ
	MutationRate    rate.Limit    // 投稿・いいね・コメントなど更新系のレート（req/sec）。30/60
	MutationBurst   int           // 更新系のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min、更新系 30 req/min（いずれもWebセッションごと）。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 30)
}

// NewRateLimiterConfig は1分あたりの回数からレート制限設定を生成する。
// 0以下の値はデフォルト値に置き換える。
func NewRateLimiterConfig(generalPerMinute, mutationPerMinute int) RateLimiterConfig {
	if generalPerMinute <= 0 {
		generalPerMinute = 120
	}
	if mutationPerMinute <= 0 {
		mutationPerMinute = 30
	}
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		MutationRate:    rate.Limit(float64(mutationPerMinute) / 60.0),
		MutationBurst:   mutationPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// limiterEntry はクライアント1件分のリミッターと最終アクセス時刻。
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterPool は同じレート・バーストを共有するクライアント別リミッターの集合。
type limiterPool struct {
	name  string
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newLimiterPool(name string, limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{name: name, limit: limit, burst: burst, entries: make(map[string]*limiterEntry)}
}

// allow はkeyのリミッターからトークンを1つ取り出せたかを返す。初回アクセスでリミッターを作る。
func (p *limiterPool) allow(key string, now time.Time) bool {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.entries[key] = e
	}
	e.lastAccess = now
	p.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// sweep はttlより長くアクセスのないエントリを削除し、削除件数を返す。
func (p *limiterPool) sweep(now time.Time, ttl time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key, e := range p.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(p.entries, key)
			removed++
		}
	}
	return removed
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// RateLimiter はBFFのクライアントごとのレート制限を管理する。
// API全般と更新系（投稿・いいね・コメント・編集・削除）の2種類を独立に持つ。
// クライアントはWebセッションID、セッションがなければ接続元IPで識別する。
type RateLimiter struct {
	config   RateLimiterConfig
	general  *limiterPool
	mutation *limiterPool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成し、期限切れエントリの掃除をバックグラウンドで開始する。
// 不要になったらStopを呼ぶこと。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:   config,
		general:  newLimiterPool("general", config.GeneralRate, config.GeneralBurst),
		mutation: newLimiterPool("mutation", config.MutationRate, config.MutationBurst),
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop は掃除用ゴルーチンを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// クライアントをWebセッションで識別するため、SessionMiddlewareの後に配置すること。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// MutationMiddleware は更新系エンドポイント専用のレート制限ミドルウェアを返す。
func (rl *RateLimiter) MutationMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.mutation)
}

func (rl *RateLimiter) middleware(pool *limiterPool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !pool.allow(key, time.Now()) {
				slog.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", pool.name),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				writeRateLimitResponse(w, pool.limit)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は管理中のAPI全般リミッター数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// MutationLimiterCount は管理中の更新系リミッター数を返す。
func (rl *RateLimiter) MutationLimiterCount() int {
	return rl.mutation.len()
}

// clientKey はレート制限の単位となるキーを返す。
func clientKey(r *http.Request) string {
	if ws, ok := WebSessionFromContext(r.Context()); ok {
		return "session:" + ws.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.cleanup(now)
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	removed := rl.general.sweep(now, ttl) + rl.mutation.sweep(now, ttl)
	if removed > 0 {
		slog.Debug("rate limiter entries swept", slog.Int("removed", removed))
	}
}

// writeRateLimitResponse は429を書き込む。Retry-Afterはトークン1つが補充されるまでの秒数。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "Too many requests. Please try again later.",
		Category: model.CategoryServer,
		Action:   "Please wait and retry after the specified time.",
		Status:   http.StatusTooManyRequests,
	})
}
