package resourcesync

import (
	"fmt"
	"time"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultStop はフェッチ停止が必要なステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff はバックオフが必要なステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
	// parseFailureThreshold はパース失敗によるフェッチ停止の閾値。
	parseFailureThreshold = 10
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultStop
	case statusCode == 401 || statusCode == 403:
		return FetchResultStop
	case statusCode == 429:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// FeedState はフィードURLごとの取得状態。プロセス内でのみ保持する。
type FeedState struct {
	ETag              string
	LastModified      string
	ConsecutiveErrors int
	NextFetchAt       time.Time
	Stopped           bool
	LastError         string
}

// Due はnowの時点で取得対象かを返す。
func (s *FeedState) Due(now time.Time) bool {
	return !s.Stopped && !now.Before(s.NextFetchAt)
}

// applyStop は以後の取得を停止する。
func (s *FeedState) applyStop(reason string) {
	s.Stopped = true
	s.LastError = reason
}

// applyBackoff は連続エラー回数を増やし、指数バックオフで次回取得時刻を遅らせる。
func (s *FeedState) applyBackoff(now time.Time, reason string) {
	s.ConsecutiveErrors++
	s.LastError = reason
	s.NextFetchAt = now.Add(CalculateBackoff(s.ConsecutiveErrors - 1))
}

// applySuccess はエラー状態をリセットする。次のサイクルで再取得する。
func (s *FeedState) applySuccess() {
	s.ConsecutiveErrors = 0
	s.LastError = ""
	s.NextFetchAt = time.Time{}
}

// applyParseFailure はパース失敗を数え、閾値に達したら取得を停止する。
func (s *FeedState) applyParseFailure(reason string) {
	s.ConsecutiveErrors++
	s.LastError = fmt.Sprintf("パース失敗 (%d回連続): %s", s.ConsecutiveErrors, reason)
	if s.ConsecutiveErrors >= parseFailureThreshold {
		s.Stopped = true
		s.LastError = fmt.Sprintf("パース失敗が%d回連続したため取得を停止しました: %s", s.ConsecutiveErrors, reason)
	}
}
