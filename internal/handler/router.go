package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/security"
)

// Pinger はヘルスチェックでDB接続を確認するためのインターフェース。*sql.DB が実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	WebSessions       repository.WebSessionRepository
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 画面
	Views      *ViewRegistry
	Sanitizer  *security.PostSanitizer
	AuthConfig AuthHandlerConfig

	// 運用
	DB       Pinger
	Gatherer prometheus.Gatherer
	Metrics  metrics.Recorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS
//	  /api: Session → RateLimit(General)
//	    ログイン不要: CSRF
//	    ログイン必須: RequireLogin → CSRF（更新系は RateLimit(Mutation) を追加）
//
// /health と /metrics はセッションを必要としない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewLoggingMiddleware(logger))
	// HTTPS配信時のみHSTSを付与する
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Views, deps.WebSessions, deps.AuthConfig)
	feedHandler := NewFeedHandler(deps.Views, deps.Sanitizer)
	profileHandler := NewProfileHandler(deps.Views, deps.Sanitizer)

	r.Get("/health", healthHandler(deps.DB))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.WebSessions))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			// --- ログイン不要のルート ---
			r.Group(func(r chi.Router) {
				r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
				r.With(deps.RateLimiter.MutationMiddleware()).Post("/login", authHandler.Login)
				r.With(deps.RateLimiter.MutationMiddleware()).Post("/signup", authHandler.SignUp)
				r.Post("/logout", authHandler.Logout)
			})

			// --- ログイン必須のルート ---
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireLogin())
				r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

				r.Get("/me", authHandler.Me)

				r.Route("/feed", func(r chi.Router) {
					r.Get("/", feedHandler.ListFeed)
					r.Group(func(r chi.Router) {
						r.Use(deps.RateLimiter.MutationMiddleware())
						r.Post("/posts", feedHandler.CreatePost)
						r.Post("/posts/{id}/like", feedHandler.LikePost)
						r.Post("/posts/{id}/comments", feedHandler.AddComment)
					})
				})

				r.Route("/profile", func(r chi.Router) {
					r.Get("/", profileHandler.ListProfile)
					r.Group(func(r chi.Router) {
						r.Use(deps.RateLimiter.MutationMiddleware())
						r.Patch("/posts/{id}", profileHandler.UpdatePost)
						r.Delete("/posts/{id}", profileHandler.DeletePost)
					})
				})
			})
		})
	})

	return r
}

// healthHandler はDBへの疎通を確認して200または503を返す。
// GET /health
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
