package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/tradeguard/internal/appeal"
	"github.com/hitoshi/tradeguard/internal/blocklist"
	"github.com/hitoshi/tradeguard/internal/config"
	"github.com/hitoshi/tradeguard/internal/content"
	"github.com/hitoshi/tradeguard/internal/contentstore"
	"github.com/hitoshi/tradeguard/internal/database"
	"github.com/hitoshi/tradeguard/internal/flag"
	"github.com/hitoshi/tradeguard/internal/handler"
	"github.com/hitoshi/tradeguard/internal/logger"
	"github.com/hitoshi/tradeguard/internal/metrics"
	"github.com/hitoshi/tradeguard/internal/middleware"
	"github.com/hitoshi/tradeguard/internal/moderation"
	"github.com/hitoshi/tradeguard/internal/repository"
	"github.com/hitoshi/tradeguard/internal/security"
	"github.com/hitoshi/tradeguard/internal/worker/blocklistsync"
	"github.com/hitoshi/tradeguard/internal/worker/cleanup"
)

// cleanupInterval はセッションクリーンアップの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. .envファイルと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		return Usage(w)
	}

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
		slog.String("log_level", cfg.LogLevel),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newMetrics はプロセス・Goランタイムのコレクタを含むレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	wordRepo := repository.NewPostgresBlockedWordRepo(db)
	flagRepo := repository.NewPostgresFlagRepo(db)
	actionRepo := repository.NewPostgresModerationActionRepo(db)
	appealRepo := repository.NewPostgresAppealRepo(db)
	statsRepo := repository.NewPostgresStatsRepo(db)

	// 自動通報の報告者となるシステムユーザーを用意する
	if err := userRepo.EnsureSystemUser(context.Background(), cfg.SystemUserID); err != nil {
		return fmt.Errorf("failed to ensure system user: %w", err)
	}

	// 3. メトリクス
	reg, collector := newMetrics()

	// 4. コンテンツ判定とブロックワード
	sanitizer := security.NewTextSanitizer()
	registry := blocklist.NewRegistry(wordRepo, cfg.BlockedWordTTL, collector, slog.Default())
	analyzer := content.NewAnalyzer(cfg.MaxAnalyzedTextBytes)
	filter := content.NewFilter(analyzer, registry, collector, slog.Default())

	// 5. 対象解決（ユーザーはDB、出品・メッセージはコンテンツサービス）
	contentClient := contentstore.NewClient(
		&http.Client{Timeout: cfg.ContentServiceTimeout},
		cfg.ContentServiceURL,
		cfg.SnippetCacheSize,
		cfg.SnippetCacheTTL,
		slog.Default(),
	)
	resolver := contentstore.NewResolver(userRepo, contentClient)

	// 6. ドメインサービスの初期化
	modService := moderation.NewService(userRepo, actionRepo, resolver, collector,
		moderation.Config{AllowSelfBan: cfg.AllowSelfBan}, slog.Default())
	flagService := flag.NewService(flagRepo, resolver, modService, filter, sanitizer, collector,
		flag.Config{SystemUserID: cfg.SystemUserID, DescriptionMaxLength: cfg.FlagDescriptionMaxLength}, slog.Default())
	appealService := appeal.NewService(appealRepo, actionRepo, sanitizer, collector,
		appeal.Config{ReasonMaxLength: cfg.AppealReasonMaxLength}, slog.Default())

	// 7. ルーターの構築（レート制限はreq/minで設定）
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitFlag))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		PrincipalFinder:   sessionRepo,
		BanChecker:        modService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    rateLimiter,
		DB:             db,
		MetricsHandler: metrics.Handler(reg),

		FlagService:   flagService,
		ContentFilter: filter,
		Screener:      flagService,

		ModerationService:  modService,
		AppealService:      appealService,
		BlockedWordService: registry,
		StatsProvider:      statsRepo,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server)
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMを受信したらシャットダウンする。
func serveUntilSignal(server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ブロックリストフィード同期とセッションクリーンアップを実行し、/metricsを別ポートで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリとメトリクス
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	wordRepo := repository.NewPostgresBlockedWordRepo(db)
	reg, collector := newMetrics()

	// フィードから取り込んだ語の登録者はシステムユーザーとする
	if err := userRepo.EnsureSystemUser(context.Background(), cfg.SystemUserID); err != nil {
		return fmt.Errorf("failed to ensure system user: %w", err)
	}

	// 3. ブロックリストフィード同期の初期化
	registry := blocklist.NewRegistry(wordRepo, cfg.BlockedWordTTL, collector, slog.Default())
	fetcher := blocklistsync.NewFetcher(
		registry,
		security.NewSSRFGuard(),
		security.NewTextSanitizer(),
		collector,
		blocklistsync.FetcherConfig{
			Timeout:     cfg.FetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
			Interval:    cfg.BlocklistSyncInterval,
			ActorID:     cfg.SystemUserID,
		},
		slog.Default(),
	)
	scheduler := blocklistsync.NewScheduler(cfg.BlocklistFeedURLs, fetcher, slog.Default(), cfg.FetchMaxConcurrent)

	// 4. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, cfg.SessionRetentionDays, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 5. ワーカーのメトリクス公開
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.BlocklistSyncInterval),
		slog.Int("feeds", len(cfg.BlocklistFeedURLs)),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, cleanupInterval)

	// フィード同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.BlocklistSyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	state, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.Uint64("version", uint64(state.Version)),
		slog.Bool("applied", state.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
