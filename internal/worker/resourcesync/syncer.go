package resourcesync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/model"
)

// ResourceUpserter はリソースのUPSERT処理のインターフェース。
type ResourceUpserter interface {
	Upsert(ctx context.Context, resource *model.Resource) (bool, error)
}

// URLGuard は外部URLへのアクセスを検証する。*security.URLGuardが満たす。
type URLGuard interface {
	Validate(rawURL string) error
	Client(timeout time.Duration) *http.Client
}

// CacheInvalidator はリソース一覧のキャッシュを破棄する。*catalog.Serviceが満たす。
type CacheInvalidator interface {
	InvalidateResources(ctx context.Context)
}

// Syncer は外部フィードを取得し、記事を学習リソースとして取り込む。
// ETag/Last-Modifiedによる条件付きGET、URL検証、gofeedによるパースを行う。
type Syncer struct {
	repo        ResourceUpserter
	guard       URLGuard
	sanitizer   TextSanitizer
	invalidator CacheInvalidator
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	now         func() time.Time

	mu     sync.Mutex
	states map[string]*FeedState
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
func NewSyncer(
	repo ResourceUpserter,
	guard URLGuard,
	sanitizer TextSanitizer,
	invalidator CacheInvalidator,
	m metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Syncer {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		repo:        repo,
		guard:       guard,
		sanitizer:   sanitizer,
		invalidator: invalidator,
		metrics:     m,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		now:         time.Now,
		states:      make(map[string]*FeedState),
	}
}

// State はフィードURLの取得状態のコピーを返す。
func (s *Syncer) State(feedURL string) FeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[feedURL]; ok {
		return *st
	}
	return FeedState{}
}

// Due はフィードURLが取得対象かを返す。
func (s *Syncer) Due(feedURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[feedURL]
	return !ok || st.Due(s.now())
}

// Sync はフィードを取得し、結果に応じて取得状態を更新する。
// 同じURLに対して並行に呼び出してはならない。
func (s *Syncer) Sync(ctx context.Context, feedURL string) error {
	st := s.stateFor(feedURL)
	start := time.Now()

	// 1. URL検証
	if err := s.guard.Validate(feedURL); err != nil {
		s.logger.Error("フィードURLの検証に失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		s.update(feedURL, func(st *FeedState) { st.applyStop(fmt.Sprintf("URL検証失敗: %s", err.Error())) })
		s.metrics.RecordFeedFetch(false, 0, time.Since(start))
		return fmt.Errorf("URL検証に失敗: %w", err)
	}

	// 2. 条件付きGET
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Mentorbook/1.0 Resource Sync")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if st.ETag != "" {
		req.Header.Set("If-None-Match", st.ETag)
	}
	if st.LastModified != "" {
		req.Header.Set("If-Modified-Since", st.LastModified)
	}

	resp, err := s.guard.Client(s.timeout).Do(req)
	if err != nil {
		s.logger.Error("HTTPリクエストに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		s.update(feedURL, func(st *FeedState) { st.applyBackoff(s.now(), fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error())) })
		s.metrics.RecordFeedFetch(false, 0, time.Since(start))
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	// 3. ステータスによる分岐
	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultNotModified:
		s.logger.Info("フィードは未変更です（304）",
			slog.String("feed_url", feedURL),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
		s.update(feedURL, func(st *FeedState) { st.applySuccess() })
		s.metrics.RecordFeedFetch(true, resp.StatusCode, time.Since(start))
		return nil
	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d により取得を停止しました", resp.StatusCode)
		s.logger.Warn("フィードの取得を停止します",
			slog.String("feed_url", feedURL),
			slog.Int("http_status", resp.StatusCode),
		)
		s.update(feedURL, func(st *FeedState) { st.applyStop(reason) })
		s.metrics.RecordFeedFetch(false, resp.StatusCode, time.Since(start))
		return nil
	default:
		reason := fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode)
		s.logger.Warn("フィード取得にバックオフを適用します",
			slog.String("feed_url", feedURL),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", st.ConsecutiveErrors+1),
		)
		s.update(feedURL, func(st *FeedState) { st.applyBackoff(s.now(), reason) })
		s.metrics.RecordFeedFetch(false, resp.StatusCode, time.Since(start))
		return nil
	}

	// 4. ボディ読み込みとパース
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		s.update(feedURL, func(st *FeedState) { st.applyBackoff(s.now(), fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error())) })
		s.metrics.RecordFeedFetch(false, resp.StatusCode, time.Since(start))
		return fmt.Errorf("レスポンス読み取りに失敗: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		s.logger.Error("フィードのパースに失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		s.update(feedURL, func(st *FeedState) { st.applyParseFailure(err.Error()) })
		s.metrics.RecordFeedFetch(false, resp.StatusCode, time.Since(start))
		return nil
	}

	// 5. リソースとして取り込み
	resources := convertItems(parsed, s.sanitizer)
	inserted, updated := 0, 0
	for i := range resources {
		res := &resources[i]
		res.ID = uuid.New().String()
		created, err := s.repo.Upsert(ctx, res)
		if err != nil {
			s.logger.Error("リソースのUPSERTに失敗しました",
				slog.String("feed_url", feedURL),
				slog.String("resource_url", res.URL),
				slog.String("error", err.Error()),
			)
			continue
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}

	s.update(feedURL, func(st *FeedState) {
		st.applySuccess()
		if etag := resp.Header.Get("ETag"); etag != "" {
			st.ETag = etag
		}
		if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
			st.LastModified = lastMod
		}
	})
	s.metrics.RecordFeedFetch(true, resp.StatusCode, time.Since(start))
	s.metrics.RecordResourcesUpserted(inserted, updated)
	if inserted+updated > 0 && s.invalidator != nil {
		s.invalidator.InvalidateResources(ctx)
	}

	s.logger.Info("フィードの取り込みが完了しました",
		slog.String("feed_url", feedURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("resources_inserted", inserted),
		slog.Int("resources_updated", updated),
		slog.Int("resources_total", len(resources)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// stateFor はフィードURLの取得状態のコピーを返す。未登録なら作成する。
func (s *Syncer) stateFor(feedURL string) FeedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[feedURL]
	if !ok {
		st = &FeedState{}
		s.states[feedURL] = st
	}
	return *st
}

func (s *Syncer) update(feedURL string, fn func(st *FeedState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[feedURL]
	if !ok {
		st = &FeedState{}
		s.states[feedURL] = st
	}
	fn(st)
}
