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

	"github.com/hitoshi/mentorbook/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralPerMinute int           // API全般（uid単位、未認証はIP単位）
	AuthPerMinute    int           // サインアップ・ログイン（IP単位）
	IdleTTL          time.Duration // 最終アクセスからこの時間を過ぎたエントリは破棄する
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralPerMinute: 120,
		AuthPerMinute:    10,
		IdleTTL:          10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// keyedLimiters はキーごとのトークンバケットを保持する。
type keyedLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
}

func newKeyedLimiters(perMinute int) *keyedLimiters {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &keyedLimiters{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		entries: make(map[string]*limiterEntry),
	}
}

func (k *keyedLimiters) allow(key string, now time.Time) bool {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastAccess = now
	k.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (k *keyedLimiters) evictIdle(now time.Time, ttl time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(k.entries, key)
		}
	}
}

func (k *keyedLimiters) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// RateLimiter はAPI全般と認証エンドポイントのレート制限を管理する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *keyedLimiters
	auth    *keyedLimiters
	now     func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter はRateLimiterを生成し、アイドルエントリの破棄をバックグラウンドで開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultRateLimiterConfig().IdleTTL
	}
	rl := &RateLimiter{
		config:  config,
		general: newKeyedLimiters(config.GeneralPerMinute),
		auth:    newKeyedLimiters(config.AuthPerMinute),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Stop はバックグラウンド処理を停止する。複数回呼び出してもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// 認証済みの場合はuid、未認証の場合はクライアントIPをキーにする。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, "general", func(r *http.Request) string {
		if uid := UIDFromContext(r.Context()); uid != "" {
			return "uid:" + uid
		}
		return "ip:" + clientIP(r)
	})
}

// AuthMiddleware はサインアップ・ログイン用のレート制限ミドルウェアを返す。
// クライアントIPをキーにし、API全般とは独立に数える。
func (rl *RateLimiter) AuthMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.auth, "auth", func(r *http.Request) string {
		return clientIP(r)
	})
}

func (rl *RateLimiter) middleware(k *keyedLimiters, kind string, keyFn func(*http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if !k.allow(key, rl.now()) {
				slog.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", kind),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(k.limit)))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.config.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	now := rl.now()
	rl.general.evictIdle(now, rl.config.IdleTTL)
	rl.auth.evictIdle(now, rl.config.IdleTTL)
}

// retryAfterSeconds はトークンが1つ補充されるまでの秒数を切り上げで返す。
func retryAfterSeconds(l rate.Limit) int {
	sec := int(math.Ceil(1.0 / float64(l)))
	if sec < 1 {
		return 1
	}
	return sec
}

// clientIP はRemoteAddrからポートを除いたIPを返す。
// プロキシ配下ではchiのRealIPミドルウェアでRemoteAddrを書き換えてから使う。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
