package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/civicportal/internal/guard"
	"github.com/hitoshi/civicportal/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Device            middleware.DeviceConfig
	CSRF              middleware.CSRFConfig

	// 端末ごとのストア群
	Runtimes RuntimeProvider
	Guard    *guard.Guard
	Pages    guard.Table

	// 運用系
	HealthChecks   map[string]HealthCheck
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Device → Logging → CSRF → RateLimit(General)
//
// /health と /metrics は端末識別の外に配置する。
// ログイン・登録系には追加でRateLimit(Login)を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{HTTPS: deps.Device.CookieSecure}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	healthHandler := NewHealthHandler(deps.HealthChecks)
	authHandler := NewAuthHandler(deps.Runtimes)
	adminHandler := NewAdminAuthHandler(deps.Runtimes)
	pinHandler := NewPinHandler(deps.Runtimes)
	navHandler := NewNavHandler(deps.Runtimes)
	pageHandler := NewPageHandler(deps.Runtimes, deps.Guard, deps.Pages)

	// --- 端末識別不要のルート ---
	r.Get("/health", healthHandler.Check)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 端末ごとのルート ---
	// ミドルウェアスタック: Device → Logging → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewDeviceMiddleware(deps.Device))
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
		r.Get("/api/nav", navHandler.Get)

		// 一般ユーザー認証
		r.Route("/api/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/register", authHandler.Register)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Put("/profile", authHandler.UpdateProfile)
			r.Put("/password", authHandler.ChangePassword)
		})

		// 管理者認証
		r.Route("/api/admin/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", adminHandler.Login)
			r.Post("/logout", adminHandler.Logout)
			r.Get("/me", adminHandler.Me)
			r.Put("/profile", adminHandler.UpdateProfile)
			r.Put("/password", adminHandler.ChangePassword)
		})

		// ピン留め
		r.Route("/api/pins", func(r chi.Router) {
			r.Get("/", pinHandler.List)
			r.Post("/toggle", pinHandler.Toggle)
			r.Get("/{id}", pinHandler.Status)
		})

		// ページ
		r.Get("/", pageHandler.Serve)
		r.Get("/*", pageHandler.Serve)
	})

	return r
}
