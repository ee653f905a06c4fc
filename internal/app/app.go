package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/postboard/internal/config"
	"github.com/hitoshi/postboard/internal/database"
	"github.com/hitoshi/postboard/internal/gateway"
	"github.com/hitoshi/postboard/internal/handler"
	"github.com/hitoshi/postboard/internal/logger"
	"github.com/hitoshi/postboard/internal/metrics"
	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogger(w, cfg.LogLevel)
	return cfg, nil
}

func setupLogger(w io.Writer, level slog.Level) {
	logger.SetupDefault(w, level)
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// runServe はBFFサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("api_base_url", cfg.APIBaseURL),
	)

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリとメトリクスの初期化
	webSessionRepo := repository.NewPostgresWebSessionRepo(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	collector.InitOperations(operationNames()...)

	// 3. リモートAPIクライアントとセキュリティサービスの初期化
	egressGuard := security.NewEgressGuard()
	httpClient, err := newAPIHTTPClient(cfg, egressGuard)
	if err != nil {
		return err
	}
	api := gateway.NewClient(httpClient, cfg.APIBaseURL, slog.Default(), collector)
	sanitizer := security.NewPostSanitizer(egressGuard)

	// 4. ビューの初期化
	views := handler.NewViewRegistry(api, webSessionRepo, slog.Default(), collector)

	// 5. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		WebSessions: webSessionRepo,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Views:             views,
		Sanitizer:         sanitizer,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:  cfg.CookieSecure,
			CookieDomain:  cfg.CookieDomain,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		DB:       db,
		Gatherer: registry,
		Metrics:  collector,
	})

	// 6. セッションとビューのクリーンアップをバックグラウンドで実行
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	cleanupJob := cleanup.NewCleanupJob(webSessionRepo, views, slog.Default())
	cleanupJob.ViewTTL = cfg.ViewIdleTTL
	go cleanupJob.Start(jobCtx, cfg.SessionCleanupInterval)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れWebセッションの削除を定期実行する。
// ビューはサーバープロセス内にあるため、ここではセッション行のみを対象にする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, poolConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	webSessionRepo := repository.NewPostgresWebSessionRepo(db)
	cleanupJob := cleanup.NewCleanupJob(webSessionRepo, nil, slog.Default())

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// ctxがキャンセルされるまでブロックする
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// migrateOptions はmigrateサブコマンドのフラグ。
type migrateOptions struct {
	down        int
	showVersion bool
}

// runMigrate はデータベースマイグレーションを実行する。
// 既定では未適用のマイグレーションをすべて適用し、
// opts.downが指定されればその段数だけロールバックする。
func runMigrate(cfg *config.Config, out io.Writer, opts migrateOptions) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("down", opts.down),
		slog.Bool("version", opts.showVersion),
	)

	switch {
	case opts.showVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		fmt.Fprintf(out, "version %d (dirty=%t)\n", version, dirty)
		return nil
	case opts.down > 0:
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.down); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", opts.down))
		return nil
	}

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

func poolConfig(cfg *config.Config) database.PoolConfig {
	return database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// newAPIHTTPClient はリモートAPI用のHTTPクライアントを生成する。
// API_STRICT_EGRESS が有効な場合はベースURLを検証し、内部ネットワーク宛てを拒否するクライアントを使う。
func newAPIHTTPClient(cfg *config.Config, guard security.EgressGuard) (*http.Client, error) {
	if !cfg.StrictEgress {
		return &http.Client{Timeout: 30 * time.Second}, nil
	}
	if err := guard.ValidateURL(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("API_BASE_URL is not allowed: %w", err)
	}
	client := guard.NewSafeClient()
	client.Timeout = 30 * time.Second
	return client, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// operationNames はリモートAPIの全操作名を返す。
func operationNames() []string {
	ops := gateway.Operations()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, string(op))
	}
	return names
}
