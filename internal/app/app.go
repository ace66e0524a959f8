package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mentorbook/internal/account"
	"github.com/hitoshi/mentorbook/internal/cache"
	"github.com/hitoshi/mentorbook/internal/catalog"
	"github.com/hitoshi/mentorbook/internal/config"
	"github.com/hitoshi/mentorbook/internal/dashboard"
	"github.com/hitoshi/mentorbook/internal/database"
	"github.com/hitoshi/mentorbook/internal/events"
	"github.com/hitoshi/mentorbook/internal/handler"
	"github.com/hitoshi/mentorbook/internal/identity"
	"github.com/hitoshi/mentorbook/internal/logger"
	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/middleware"
	"github.com/hitoshi/mentorbook/internal/repository"
	"github.com/hitoshi/mentorbook/internal/resolver"
	"github.com/hitoshi/mentorbook/internal/security"
	"github.com/hitoshi/mentorbook/internal/storage"
	"github.com/hitoshi/mentorbook/internal/tracing"
	"github.com/hitoshi/mentorbook/internal/worker/cleanup"
	"github.com/hitoshi/mentorbook/internal/worker/resourcesync"
)

const serviceName = "mentorbook"

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	inv, err := ParseCommand(args)
	if err != nil {
		return err
	}
	cmd := inv.Command

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, inv)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetrics はプロセス用のレジストリとコレクターを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.NewCollector(reg)
}

// newPublisher はNATS_URLが設定されていればNATSへ、なければ何もしないPublisherを返す。
// 接続に失敗した場合も起動は継続する。
func newPublisher(natsURL string) (events.Publisher, func()) {
	if natsURL == "" {
		return events.NopPublisher{}, func() {}
	}
	p, err := events.NewNatsPublisher(natsURL)
	if err != nil {
		slog.Warn("nats unavailable, domain events are disabled", slog.String("error", err.Error()))
		return events.NopPublisher{}, func() {}
	}
	return p, func() {
		if err := p.Close(); err != nil {
			slog.Warn("failed to drain nats connection", slog.String("error", err.Error()))
		}
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. トレーシング
	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("failed to shut down tracing", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established")

	// 3. 外部サービス（Redis / NATS / オブジェクトストレージ）
	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer cacheClient.Close()
	if err := cacheClient.Ping(ctx); err != nil {
		slog.Warn("redis unavailable, catalog cache falls back to database", slog.String("error", err.Error()))
	}

	publisher, closePublisher := newPublisher(cfg.NatsURL)
	defer closePublisher()

	presigner, err := storage.NewFilePresigner(ctx, storage.Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
		PublicBaseURL:   cfg.S3PublicBaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to set up object storage: %w", err)
	}

	// 4. リポジトリの初期化
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	recordRepo := repository.NewPostgresUserRecordRepo(db)
	mentorRepo := repository.NewPostgresMentorRepo(db)
	resourceRepo := repository.NewPostgresResourceRepo(db)

	// 5. ドメインサービスの初期化
	registry, collector := newMetrics()
	sanitizer := security.NewSanitizer()

	var oauth identity.OAuthProvider
	if cfg.FederatedEnabled() {
		oauth = identity.NewGoogleOAuthProvider(identity.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		})
	}
	identService := identity.NewService(oauth, identRepo, sessionRepo, identity.NewHub(),
		identity.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	precedence, err := resolver.ParsePrecedence(cfg.AdminPrecedence)
	if err != nil {
		return err
	}
	res := resolver.New(identService, recordRepo, identService, collector, resolver.Config{
		AdminEmail: cfg.AdminEmail,
		Precedence: precedence,
	})

	catalogService := catalog.NewService(mentorRepo, resourceRepo, cacheClient, cfg.CatalogCacheTTL, collector)
	accountService := account.NewService(identService, recordRepo, catalogService, publisher, collector)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralPerMinute: cfg.RateLimitGeneral,
		AuthPerMinute:    cfg.RateLimitAuth,
	})
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		HSTS:           cfg.CookieSecure,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		ServiceName:    serviceName,

		Cookies: handler.CookieConfig{
			Domain:        cfg.CookieDomain,
			Secure:        cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Identity:     identService,
		Accounts:     accountService,
		Resolver:     res,
		PageResolver: res,
		Records:      recordRepo,

		Catalog: catalogService,

		Dashboard:    dashboard.NewStore(sanitizer),
		BioSanitizer: sanitizer,

		Metrics: collector,
	}
	// 未設定時はインターフェースをnilのままにしてアップロードを無効化する
	if presigner != nil {
		deps.ImagePresigner = presigner
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はHTTPサーバーを起動し、SIGINTまたはSIGTERMを受信するとグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// リソースフィードの同期とセッションクリーンアップを定期実行し、
// /healthと/metricsを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established (worker)")

	// 2. 依存関係の初期化
	registry, collector := newMetrics()
	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer cacheClient.Close()

	resourceRepo := repository.NewPostgresResourceRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	catalogService := catalog.NewService(repository.NewPostgresMentorRepo(db), resourceRepo, cacheClient, cfg.CatalogCacheTTL, collector)

	syncer := resourcesync.NewSyncer(
		resourceRepo, security.NewURLGuard(), security.NewSanitizer(), catalogService,
		collector, slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize,
	)
	scheduler := resourcesync.NewScheduler(cfg.ResourceFeedURLs, syncer, slog.Default(), 0)
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, collector, slog.Default())

	// 3. グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.ResourceSyncInterval),
		slog.Int("feed_count", len(cfg.ResourceFeedURLs)),
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// 4. 運用エンドポイント
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	opsServer := &http.Server{Addr: ":" + cfg.ServerPort, Handler: mux, ReadTimeout: 5 * time.Second}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server error", slog.String("error", err.Error()))
		}
	}()

	// 5. ジョブの起動
	go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)
	go scheduler.Start(ctx, cfg.ResourceSyncInterval)

	<-ctx.Done()
	slog.Info("shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker ops server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はinv.Migrateに応じてスキーマを適用・巻き戻し・照会する。
func runMigrate(cfg *config.Config, inv Invocation) error {
	log := slog.With(
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.String("action", string(inv.Migrate)),
	)

	switch inv.Migrate {
	case MigrateDown:
		log.Info("rolling back database migrations", slog.Int("steps", inv.Steps))
		if err := database.RollbackMigrations(cfg.DatabaseURL, inv.Steps); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case MigrateVersion:
		// バージョン照会のみ。下の完了ログは出さない
		sv, err := database.CurrentVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("schema version",
			slog.Uint64("version", uint64(sv.Version)),
			slog.Bool("dirty", sv.Dirty),
			slog.Bool("empty", sv.Empty),
		)
		return nil
	default:
		log.Info("applying database migrations")
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info("database migrations completed")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
