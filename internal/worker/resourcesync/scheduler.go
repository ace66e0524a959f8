// Package resourcesync は外部フィードから学習リソースを取り込むバックグラウンド処理を提供する。
// スケジューラ、フィード取得、リトライ/バックオフ戦略を含む。
package resourcesync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FeedSyncer はフィード取り込みの実行インターフェース。
type FeedSyncer interface {
	// Due はフィードURLが取得対象かを返す。
	Due(feedURL string) bool
	// Sync はフィードを取得し、記事をリソースとして保存する。
	Sync(ctx context.Context, feedURL string) error
}

// Scheduler は設定されたフィードURLの定期取り込みと並列制御を行う。
type Scheduler struct {
	feedURLs       []string
	syncer         FeedSyncer
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(feedURLs []string, syncer FeedSyncer, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		feedURLs:       feedURLs,
		syncer:         syncer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はintervalごとに取り込みを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if len(s.feedURLs) == 0 {
		s.logger.Info("取り込み対象のフィードが設定されていないため、リソース同期を開始しません")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リソース同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("feed_count", len(s.feedURLs)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リソース同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は取得対象のフィードを並列に1回ずつ取り込む。
// semaphoreパターンで最大並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	synced := 0

	for _, feedURL := range s.feedURLs {
		if !s.syncer.Due(feedURL) {
			continue
		}
		synced++

		wg.Add(1)
		sem <- struct{}{}
		go func(u string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.syncer.Sync(ctx, u); err != nil {
				s.logger.Error("フィードの取り込みに失敗しました",
					slog.String("feed_url", u),
					slog.String("error", err.Error()),
				)
			}
		}(feedURL)
	}

	wg.Wait()

	s.logger.Info("リソース同期サイクルが完了しました",
		slog.Int("feed_count", synced),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
