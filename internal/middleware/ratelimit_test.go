package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/tradeguard/internal/model"
)

func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

// serveAs は指定ユーザーとしてリクエストを送り、レスポンスを返す。
func serveAs(h http.Handler, method, path, userID string) *httptest.ResponseRecorder {
	req := withPrincipal(httptest.NewRequest(method, path, nil), userID, false)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 2, GeneralBurst: 5, FlagRate: 1, FlagBurst: 10})

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		if w := serveAs(handler, http.MethodGet, "/api/test", "user-1"); w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 2, FlagRate: 1, FlagBurst: 10})
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		if w := serveAs(handler, http.MethodGet, "/api/test", "user-rate-limit"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	// 3回目はレート制限に引っかかる
	w := serveAs(handler, http.MethodGet, "/api/test", "user-rate-limit")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter := w.Header().Get("Retry-After")
	retrySeconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		t.Fatalf("Retry-After header should be a number, got %q", retryAfter)
	}
	if retrySeconds < 1 {
		t.Errorf("Retry-After = %d, should be at least 1", retrySeconds)
	}

	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want %q", body.Category, "system")
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, FlagRate: 1, FlagBurst: 10})
	handler := rl.GeneralMiddleware()(okHandler())

	if w := serveAs(handler, http.MethodGet, "/api/test", "user-A"); w.Code != http.StatusOK {
		t.Errorf("user-A first request: status = %d, want %d", w.Code, http.StatusOK)
	}
	if w := serveAs(handler, http.MethodGet, "/api/test", "user-A"); w.Code != http.StatusTooManyRequests {
		t.Errorf("user-A second request: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	// ユーザーBはユーザーAのレートに影響されない
	if w := serveAs(handler, http.MethodGet, "/api/test", "user-B"); w.Code != http.StatusOK {
		t.Errorf("user-B first request: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_NoPrincipal_Returns401(t *testing.T) {
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig())
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called without user ID")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- FlagSubmissionMiddleware のテスト ---

func TestFlagSubmissionRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 100, GeneralBurst: 200, FlagRate: 1, FlagBurst: 3})
	handler := rl.FlagSubmissionMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		if w := serveAs(handler, http.MethodPost, "/api/flags", "user-flag"); w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
	w := serveAs(handler, http.MethodPost, "/api/flags", "user-flag")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header to be present")
	}
}

func TestFlagSubmissionRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, FlagRate: 1, FlagBurst: 1})
	general := rl.GeneralMiddleware()(okHandler())
	flag := rl.FlagSubmissionMiddleware()(okHandler())

	serveAs(general, http.MethodGet, "/api/test", "user-indep")
	if w := serveAs(general, http.MethodGet, "/api/test", "user-indep"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("general limit should be exhausted: status = %d", w.Code)
	}

	// API全般の上限に達しても通報登録の上限は別枠
	if w := serveAs(flag, http.MethodPost, "/api/flags", "user-indep"); w.Code != http.StatusOK {
		t.Errorf("flag submission should still be allowed: status = %d, want %d", w.Code, http.StatusOK)
	}
}

// --- 設定とクリーンアップのテスト ---

func TestNewRateLimiterConfig_PerMinute(t *testing.T) {
	cfg := NewRateLimiterConfig(60, 6)
	if cfg.GeneralRate != 1 {
		t.Errorf("GeneralRate = %v, want 1", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 60 {
		t.Errorf("GeneralBurst = %d, want 60", cfg.GeneralBurst)
	}
	if cfg.FlagRate != 0.1 {
		t.Errorf("FlagRate = %v, want 0.1", cfg.FlagRate)
	}
	if cfg.FlagBurst != 6 {
		t.Errorf("FlagBurst = %d, want 6", cfg.FlagBurst)
	}
}

func TestNewRateLimiterConfig_NonPositiveUsesDefaults(t *testing.T) {
	cfg := NewRateLimiterConfig(0, -1)
	def := DefaultRateLimiterConfig()
	if cfg != def {
		t.Errorf("config = %+v, want %+v", cfg, def)
	}
	if def.GeneralBurst != 120 || def.FlagBurst != 10 {
		t.Errorf("default bursts = (%d, %d), want (120, 10)", def.GeneralBurst, def.FlagBurst)
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := newTestRateLimiter(t, RateLimiterConfig{GeneralRate: 10, GeneralBurst: 10, FlagRate: 10, FlagBurst: 10, CleanupInterval: time.Hour})

	serveAs(rl.GeneralMiddleware()(okHandler()), http.MethodGet, "/api/test", "user-old")
	serveAs(rl.FlagSubmissionMiddleware()(okHandler()), http.MethodPost, "/api/flags", "user-old")
	if rl.GeneralLimiterCount() != 1 || rl.FlagLimiterCount() != 1 {
		t.Fatalf("limiter counts = (%d, %d), want (1, 1)", rl.GeneralLimiterCount(), rl.FlagLimiterCount())
	}

	// 最終アクセスから2時間以内は保持される
	rl.cleanup(time.Now().Add(90 * time.Minute))
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("general count after short idle = %d, want 1", rl.GeneralLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.GeneralLimiterCount() != 0 || rl.FlagLimiterCount() != 0 {
		t.Errorf("limiter counts after cleanup = (%d, %d), want (0, 0)", rl.GeneralLimiterCount(), rl.FlagLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}
