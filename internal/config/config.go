package config

import (
	"fmt"
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
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Moderation
	SystemUserID             string
	AllowSelfBan             bool
	BlockedWordTTL           time.Duration
	MaxAnalyzedTextBytes     int
	FlagDescriptionMaxLength int
	AppealReasonMaxLength    int

	// Content service
	ContentServiceURL     string
	ContentServiceTimeout time.Duration
	SnippetCacheSize      int
	SnippetCacheTTL       time.Duration

	// Blocklist feed sync
	BlocklistFeedURLs     []string
	BlocklistSyncInterval time.Duration
	FetchTimeout          time.Duration
	FetchMaxSize          int64
	FetchMaxConcurrent    int

	// Rate Limit
	RateLimitGeneral int
	RateLimitFlag    int

	// Session
	SessionRetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	WorkerMetricsPort string

	// Cookie
	CookieDomain string
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

// LoadDotEnv はカレントディレクトリの.envファイルを環境変数に読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
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

	cfg.SystemUserID = os.Getenv("SYSTEM_USER_ID")
	if cfg.SystemUserID == "" {
		missing = append(missing, "SYSTEM_USER_ID")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.AllowSelfBan = getEnvBool("ALLOW_SELF_BAN", false)
	cfg.BlockedWordTTL = getEnvDuration("BLOCKED_WORD_TTL", time.Hour)
	cfg.MaxAnalyzedTextBytes = getEnvInt("MAX_ANALYZED_TEXT_BYTES", 10000)
	cfg.FlagDescriptionMaxLength = getEnvInt("FLAG_DESCRIPTION_MAX_LENGTH", 1000)
	cfg.AppealReasonMaxLength = getEnvInt("APPEAL_REASON_MAX_LENGTH", 2000)
	cfg.ContentServiceURL = getEnvString("CONTENT_SERVICE_URL", "http://localhost:8081")
	cfg.ContentServiceTimeout = getEnvDuration("CONTENT_SERVICE_TIMEOUT", 5*time.Second)
	cfg.SnippetCacheSize = getEnvInt("SNIPPET_CACHE_SIZE", 1000)
	cfg.SnippetCacheTTL = getEnvDuration("SNIPPET_CACHE_TTL", 5*time.Minute)
	cfg.BlocklistFeedURLs = getEnvList("BLOCKLIST_FEED_URLS")
	cfg.BlocklistSyncInterval = getEnvDuration("BLOCKLIST_SYNC_INTERVAL", time.Hour)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchMaxConcurrent = getEnvInt("FETCH_MAX_CONCURRENT", 4)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitFlag = getEnvInt("RATE_LIMIT_FLAG", 10)
	cfg.SessionRetentionDays = getEnvInt("SESSION_RETENTION_DAYS", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", true)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
