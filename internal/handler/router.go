package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tradeguard/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	PrincipalFinder   middleware.PrincipalFinder
	BanChecker        middleware.BanChecker
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用
	DB             Pinger
	MetricsHandler http.Handler

	// 通報・判定
	FlagService   FlagServiceInterface
	ContentFilter ContentFilterInterface
	Screener      ContentScreener

	// モデレーション
	ModerationService  ModerationServiceInterface
	AppealService      AppealServiceInterface
	BlockedWordService BlockedWordServiceInterface
	StatsProvider      StatsProvider
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → SecurityHeaders → CORS → Session → RateLimit(General) → CSRF
//
// /health、/metrics、/api/csrf-token は認証不要。
// 通報とコンテンツ判定はBAN中のユーザーを拒否するが、異議申し立てはBAN中でも利用できる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	flagHandler := NewFlagHandler(deps.FlagService)
	modHandler := NewModerationHandler(deps.ModerationService)
	appealHandler := NewAppealHandler(deps.AppealService)
	wordHandler := NewBlockedWordHandler(deps.BlockedWordService)
	contentHandler := NewContentHandler(deps.ContentFilter, deps.Screener)
	statsHandler := NewStatsHandler(deps.StatsProvider)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.PrincipalFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		notBanned := middleware.NewRequireNotBannedMiddleware(deps.BanChecker)

		// 通報（通報専用レート制限を追加）
		r.With(
			notBanned,
			deps.RateLimiter.FlagSubmissionMiddleware(),
			middleware.NewContentFilterMiddleware(deps.ContentFilter, "description"),
		).Post("/api/flags", flagHandler.SubmitFlag)

		// コンテンツ判定
		r.With(
			notBanned,
			middleware.NewContentFilterMiddleware(deps.ContentFilter, "text"),
		).Post("/api/content/check", contentHandler.CheckContent)

		// 異議申し立て（BAN中でも利用可）
		r.Route("/api/appeals", func(r chi.Router) {
			r.Get("/", appealHandler.ListMyAppeals)
			r.Post("/", appealHandler.SubmitAppeal)
		})

		// モデレーター専用
		r.Route("/api/moderation", func(r chi.Router) {
			r.Use(middleware.RequireModerator)

			r.Get("/flags", flagHandler.ListPendingFlags)
			r.Post("/flags/{id}/review", flagHandler.ReviewFlag)

			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/", modHandler.GetUserStatus)
				r.Post("/actions", modHandler.ModerateUser)
				r.Post("/unban", modHandler.UnbanUser)
			})

			r.Get("/appeals", appealHandler.ListPendingAppeals)
			r.Post("/appeals/{id}/review", appealHandler.ReviewAppeal)

			r.Route("/blocked-words", func(r chi.Router) {
				r.Get("/", wordHandler.ListBlockedWords)
				r.Post("/", wordHandler.AddBlockedWord)
				r.Delete("/{word}", wordHandler.RemoveBlockedWord)
			})

			r.Get("/stats", statsHandler.GetStats)
		})
	})

	return r
}
