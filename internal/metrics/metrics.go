// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラー、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(method string, success bool)
	RecordResolution(state string)
	RecordSignup(role string, recordWritten bool)
	RecordCacheLookup(hit bool)
	RecordFeedFetch(success bool, statusCode int, duration time.Duration)
	RecordResourcesUpserted(inserted, updated int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts      *prometheus.CounterVec
	resolutions       *prometheus.CounterVec
	signups           *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	feedFetches       *prometheus.CounterVec
	feedHTTPStatus    *prometheus.CounterVec
	feedFetchLatency  prometheus.Histogram
	resourcesUpserted *prometheus.CounterVec
	sessionsCleaned   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorbook_auth_attempts_total",
			Help: "認証試行の合計数（方式・結果別）",
		}, []string{"method", "result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorbook_resolutions_total",
			Help: "遷移先解決の結果別の合計数",
		}, []string{"state"}),
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorbook_signups_total",
			Help: "サインアップの合計数（ロール・レコード書き込み結果別）",
		}, []string{"role", "record"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorbook_catalog_cache_lookups_total",
			Help: "カタログキャッシュの参照数",
		}, []string{"result"}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorbook_resource_feed_fetch_total",
			Help: "リソースフィード取得の合計数",
		}, []string{"result"}),
		feedHTTPStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorbook_resource_feed_http_status_total",
			Help: "リソースフィード取得のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		feedFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mentorbook_resource_feed_fetch_latency_seconds",
			Help:    "リソースフィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		resourcesUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorbook_resources_upserted_total",
			Help: "取り込まれたリソースの合計数",
		}, []string{"op"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentorbook_sessions_cleaned_total",
			Help: "削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.resolutions,
		c.signups,
		c.cacheLookups,
		c.feedFetches,
		c.feedHTTPStatus,
		c.feedFetchLatency,
		c.resourcesUpserted,
		c.sessionsCleaned,
	)

	return c
}

// RecordAuthAttempt は認証試行を記録する。
func (c *Collector) RecordAuthAttempt(method string, success bool) {
	c.authAttempts.WithLabelValues(method, resultLabel(success)).Inc()
}

// RecordResolution は遷移先解決の結果を記録する。
func (c *Collector) RecordResolution(state string) {
	c.resolutions.WithLabelValues(state).Inc()
}

// RecordSignup はサインアップを記録する。
func (c *Collector) RecordSignup(role string, recordWritten bool) {
	record := "written"
	if !recordWritten {
		record = "failed"
	}
	c.signups.WithLabelValues(role, record).Inc()
}

// RecordCacheLookup はキャッシュ参照の結果を記録する。
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordFeedFetch はリソースフィードの取得結果を記録する。
// statusCodeが0の場合はHTTPステータスを記録しない。
func (c *Collector) RecordFeedFetch(success bool, statusCode int, duration time.Duration) {
	c.feedFetches.WithLabelValues(resultLabel(success)).Inc()
	if statusCode > 0 {
		c.feedHTTPStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	}
	c.feedFetchLatency.Observe(duration.Seconds())
}

// RecordResourcesUpserted は取り込まれたリソース数を記録する。
func (c *Collector) RecordResourcesUpserted(inserted, updated int) {
	c.resourcesUpserted.WithLabelValues("insert").Add(float64(inserted))
	c.resourcesUpserted.WithLabelValues("update").Add(float64(updated))
}

// RecordSessionsCleaned は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordAuthAttempt(string, bool)           {}
func (Nop) RecordResolution(string)                  {}
func (Nop) RecordSignup(string, bool)                {}
func (Nop) RecordCacheLookup(bool)                   {}
func (Nop) RecordFeedFetch(bool, int, time.Duration) {}
func (Nop) RecordResourcesUpserted(int, int)         {}
func (Nop) RecordSessionsCleaned(int64)              {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
