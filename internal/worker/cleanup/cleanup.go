// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/mentorbook/internal/metrics"
)

// ExpiredSessionDeleter は期限切れセッションの削除を抽象化するインターフェース。
// *repository.PostgresSessionRepoが満たす。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	sessions ExpiredSessionDeleter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions ExpiredSessionDeleter, m metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{sessions: sessions, metrics: m, logger: logger}
}

// Run は期限切れセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}
	j.metrics.RecordSessionsCleaned(deleted)

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
