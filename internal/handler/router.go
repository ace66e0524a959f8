package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/mentorbook/internal/dashboard"
	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/middleware"
)

// HealthChecker は依存先の疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	HSTS              bool
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler // nilの場合は/metricsを公開しない
	ServiceName       string

	Cookies        CookieConfig
	ResolveTimeout time.Duration

	// 認証・ロール解決
	Identity     IdentityService
	Accounts     AccountService
	Resolver     SessionResolver
	PageResolver PageResolver
	Records      RecordFinder

	// カタログ
	Catalog CatalogService

	// メンターダッシュボード
	Dashboard      DashboardStore
	ImagePresigner ImagePresigner
	BioSanitizer   dashboard.BioSanitizer

	Metrics metrics.MetricsCollector
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したhttp.Handlerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	otelhttp → Recovery → SecurityHeaders → CORS → Session → Logging → CSRF → RateLimit(General)
//
// /auth/* にはさらに認証専用のレート制限を重ねる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
	r.Use(deps.RateLimiter.GeneralMiddleware())

	authHandler := NewAuthHandler(deps.Identity, deps.Accounts, deps.Resolver, deps.Records, deps.Metrics, deps.Cookies)
	pageHandler := NewPageHandler(deps.PageResolver, deps.Cookies, deps.ResolveTimeout)
	catalogHandler := NewCatalogHandler(deps.Catalog)
	dashboardHandler := NewDashboardHandler(deps.Records, deps.Dashboard, deps.ImagePresigner)
	adminHandler := NewAdminHandler(deps.Identity, deps.Resolver, deps.Accounts, deps.BioSanitizer)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- 認証 ---
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/signup", authHandler.SignUp)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
		r.Get("/google/login", authHandler.GoogleLogin)
		r.Get("/google/callback", authHandler.GoogleCallback)
	})

	// --- 画面遷移（ロール解決） ---
	r.Get("/login", pageHandler.Login)
	r.Get("/signup", pageHandler.Signup)
	r.Get("/dashboard", pageHandler.Dashboard)
	r.Get("/admin", pageHandler.Admin)

	// --- 管理者 ---
	r.With(middleware.RequireSession, adminHandler.RequireAdmin).Post("/admin/mentors", adminHandler.OnboardMentor)

	// --- カタログ（認証不要） ---
	r.Route("/api/mentors", func(r chi.Router) {
		r.Get("/", catalogHandler.ListMentors)
		r.Get("/{slug}", catalogHandler.GetMentor)
		r.Get("/{slug}/availability", catalogHandler.GetAvailability)
	})
	r.Get("/api/resources", catalogHandler.ListResources)

	// --- メンターダッシュボード ---
	r.Route("/api/dashboard", func(r chi.Router) {
		r.Use(middleware.RequireSession)
		r.Use(dashboardHandler.RequireMentor)

		r.Get("/profile", dashboardHandler.GetProfile)
		r.Put("/profile", dashboardHandler.UpdateProfile)
		r.Post("/profile/image-upload-url", dashboardHandler.CreateImageUploadURL)
		r.Get("/courses", dashboardHandler.ListCourses)
		r.Post("/courses", dashboardHandler.CreateCourse)
		r.Delete("/courses/{id}", dashboardHandler.DeleteCourse)
		r.Get("/transactions", dashboardHandler.ListTransactions)
	})

	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "mentorbook"
	}
	return otelhttp.NewHandler(r, serviceName)
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
				middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
