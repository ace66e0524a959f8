package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Admin
	AdminEmail      string // 小文字のみ。完全一致で比較する
	AdminPrecedence string // admin または dashboard

	// OAuth（未設定の場合はGoogleログインを無効にする）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Cache
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CatalogCacheTTL time.Duration

	// Events
	NatsURL string

	// Object storage
	S3Endpoint         string
	S3Region           string
	S3Bucket           string
	S3UsePathStyle     bool
	S3PublicBaseURL    string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Tracing
	OTelEndpoint string

	// Resource sync
	ResourceFeedURLs     []string
	ResourceSyncInterval time.Duration
	FetchTimeout         time.Duration
	FetchMaxSize         int64

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// FederatedEnabled はGoogleログインの設定が揃っているかを返す。
func (c *Config) FederatedEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// LoadDotEnv は指定ファイル（省略時は.env）を環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	// 比較は完全一致のため、前後の空白以外は加工しない
	cfg.AdminEmail = strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	if cfg.AdminEmail == "" {
		missing = append(missing, "ADMIN_EMAIL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.AdminPrecedence = strings.ToLower(getEnvString("ADMIN_PRECEDENCE", "admin"))
	if cfg.AdminPrecedence != "admin" && cfg.AdminPrecedence != "dashboard" {
		return nil, fmt.Errorf("invalid ADMIN_PRECEDENCE: %q (want admin or dashboard)", cfg.AdminPrecedence)
	}

	// identityのメールアドレスは小文字で保存されるため、大文字を含む値は一致し得ない
	if cfg.AdminEmail != strings.ToLower(cfg.AdminEmail) {
		return nil, fmt.Errorf("invalid ADMIN_EMAIL: %q must be lower case", cfg.AdminEmail)
	}

	// Optional fields with defaults
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/google/callback")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.CatalogCacheTTL = getEnvDuration("CATALOG_CACHE_TTL", 5*time.Minute)
	cfg.NatsURL = os.Getenv("NATS_URL")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3Region = getEnvString("AWS_REGION", "us-east-1")
	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", false)
	cfg.S3PublicBaseURL = os.Getenv("S3_PUBLIC_BASE_URL")
	cfg.AWSAccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.AWSSecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	cfg.OTelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.ResourceFeedURLs = getEnvList("RESOURCE_FEED_URLS")
	cfg.ResourceSyncInterval = getEnvDuration("RESOURCE_SYNC_INTERVAL", time.Hour)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
