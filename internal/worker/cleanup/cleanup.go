// Package cleanup はWebセッションの自動削除ジョブを提供する。
// 期限切れのweb_sessions行を削除し、一定時間操作のないサーバー側ビューを破棄する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は期限切れWebセッションの削除を抽象化するインターフェース。
// repository.WebSessionRepository が満たす。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// ViewEvictor はアイドル状態のビューの破棄を抽象化するインターフェース。
type ViewEvictor interface {
	EvictIdle(ttl time.Duration) int
}

// CleanupJob は期限切れセッションとアイドルビューの削除ジョブ。
// どちらの対象もnilなら処理をスキップする。冪等。
type CleanupJob struct {
	sessions SessionPurger
	views    ViewEvictor
	logger   *slog.Logger
	ViewTTL  time.Duration // ビューのアイドル許容時間（デフォルト: 30分）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionPurger, views ViewEvictor, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions: sessions,
		views:    views,
		logger:   logger,
		ViewTTL:  30 * time.Minute,
	}
}

// Run は1回分のクリーンアップを実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	var deleted int64
	if j.sessions != nil {
		n, err := j.sessions.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
		}
		deleted = n
	}

	evicted := 0
	if j.views != nil {
		evicted = j.views.EvictIdle(j.ViewTTL)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("evicted_views", evicted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました", slog.Duration("interval", interval))

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	// Run内でエラーログは出力済み
	_ = j.Run(ctx)
}
