package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/tradeguard/internal/middleware"
	"github.com/hitoshi/tradeguard/internal/model"
)

const testCSRFToken = "test-csrf-token"

type mockPrincipalFinder struct {
	sessions map[string]*model.Principal
}

func (m *mockPrincipalFinder) FindPrincipal(ctx context.Context, sessionID string) (*model.Principal, error) {
	return m.sessions[sessionID], nil
}

type mockBanChecker struct {
	banned map[string]bool
}

func (m *mockBanChecker) IsBanned(ctx context.Context, userID string) (bool, error) {
	return m.banned[userID], nil
}

type routerFixture struct {
	handler http.Handler
	flags   *mockFlagService
	appeals *mockAppealService
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	f := &routerFixture{
		flags:   &mockFlagService{},
		appeals: &mockAppealService{},
	}
	f.handler = NewRouter(&RouterDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		PrincipalFinder: &mockPrincipalFinder{sessions: map[string]*model.Principal{
			"sess-user":   {UserID: "user-1"},
			"sess-mod":    {UserID: "mod-1", IsModerator: true},
			"sess-banned": {UserID: "banned-1"},
		}},
		BanChecker:         &mockBanChecker{banned: map[string]bool{"banned-1": true}},
		CORSAllowedOrigin:  "http://localhost:3000",
		RateLimiter:        rl,
		DB:                 &mockPinger{},
		MetricsHandler:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics\n")) }),
		FlagService:        f.flags,
		ContentFilter:      &mockContentFilter{},
		Screener:           &mockScreener{},
		ModerationService:  &mockModerationService{},
		AppealService:      f.appeals,
		BlockedWordService: &mockBlockedWordService{},
		StatsProvider:      &mockStatsProvider{},
	})
	return f
}

// do はセッションCookieとCSRFトークンを付与してリクエストを実行する。
func (f *routerFixture) do(method, path, session, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: session})
	}
	req.AddCookie(&http.Cookie{Name: "tg_csrf", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/health", "/metrics", "/api/csrf-token"} {
		t.Run(path, func(t *testing.T) {
			w := f.do(http.MethodGet, path, "", "")
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}
}

func TestRouter_SecurityHeadersOnEveryResponse(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodGet, "/health", "", "")

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRouter_Unauthenticated_Returns401(t *testing.T) {
	f := newRouterFixture(t)

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/flags", `{"target_type":"listing","target_id":"l-1","reason":"spam"}`},
		{http.MethodGet, "/api/appeals", ""},
		{http.MethodGet, "/api/moderation/flags", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := f.do(tt.method, tt.path, "", tt.body)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}

	w := f.do(http.MethodGet, "/api/appeals", "unknown-session", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown session status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_ModerationRoutes_RequireModerator(t *testing.T) {
	f := newRouterFixture(t)

	paths := []string{
		"/api/moderation/flags",
		"/api/moderation/appeals",
		"/api/moderation/users/user-2",
		"/api/moderation/blocked-words",
		"/api/moderation/stats",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			if w := f.do(http.MethodGet, path, "sess-user", ""); w.Code != http.StatusForbidden {
				t.Errorf("non-moderator status = %d, want %d", w.Code, http.StatusForbidden)
			}
			if w := f.do(http.MethodGet, path, "sess-mod", ""); w.Code != http.StatusOK {
				t.Errorf("moderator status = %d, want %d; body=%s", w.Code, http.StatusOK, w.Body.String())
			}
		})
	}
}

func TestRouter_ModerationWriteRoutes(t *testing.T) {
	f := newRouterFixture(t)

	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{http.MethodPost, "/api/moderation/flags/flag-1/review", `{"decision":"dismiss"}`, http.StatusOK},
		{http.MethodPost, "/api/moderation/users/user-2/actions", `{"action_type":"warning","reason":"rude"}`, http.StatusOK},
		{http.MethodPost, "/api/moderation/users/user-2/unban", "", http.StatusOK},
		{http.MethodPost, "/api/moderation/appeals/appeal-1/review", `{"decision":"denied"}`, http.StatusOK},
		{http.MethodPost, "/api/moderation/blocked-words", `{"word":"scamcoin","category":"fraud","severity":"high"}`, http.StatusCreated},
		{http.MethodDelete, "/api/moderation/blocked-words/scamcoin", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := f.do(tt.method, tt.path, "sess-mod", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRouter_BannedUser_CannotFlagButCanAppeal(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodPost, "/api/flags", "sess-banned", `{"target_type":"listing","target_id":"l-1","reason":"spam"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("flag status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if errResp := parseAPIErrorResponse(t, w); errResp["code"] != model.ErrCodeUserBanned {
		t.Errorf("code = %q, want %q", errResp["code"], model.ErrCodeUserBanned)
	}

	w = f.do(http.MethodPost, "/api/content/check", "sess-banned", `{"text":"hello"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("content check status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = f.do(http.MethodPost, "/api/appeals", "sess-banned", `{"moderation_action_id":"action-1","reason":"mistake"}`)
	if w.Code != http.StatusCreated {
		t.Errorf("appeal status = %d, want %d", w.Code, http.StatusCreated)
	}
}

func TestRouter_SubmitFlag_Succeeds(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodPost, "/api/flags", "sess-user", `{"target_type":"listing","target_id":"l-1","reason":"spam","description":"looks fake"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
	if got := w.Header().Get(middleware.SeverityHeader); got != "none" {
		t.Errorf("%s = %q, want none", middleware.SeverityHeader, got)
	}
}

func TestRouter_PostWithoutCSRFToken_Returns403(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/appeals", bytes.NewBufferString(`{"moderation_action_id":"a","reason":"r"}`))
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "sess-user"})
	w := httptest.NewRecorder()

	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if errResp := parseAPIErrorResponse(t, w); errResp["code"] != model.ErrCodeCSRFInvalid {
		t.Errorf("code = %q, want %q", errResp["code"], model.ErrCodeCSRFInvalid)
	}
}

func TestRouter_FlagRateLimit(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 2))
	t.Cleanup(rl.Stop)

	f := newRouterFixture(t)
	f.handler = NewRouter(&RouterDeps{
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		PrincipalFinder:    &mockPrincipalFinder{sessions: map[string]*model.Principal{"sess-user": {UserID: "user-1"}}},
		BanChecker:         &mockBanChecker{},
		RateLimiter:        rl,
		FlagService:        f.flags,
		ContentFilter:      &mockContentFilter{},
		ModerationService:  &mockModerationService{},
		AppealService:      f.appeals,
		BlockedWordService: &mockBlockedWordService{},
		StatsProvider:      &mockStatsProvider{},
	})

	body := `{"target_type":"listing","target_id":"l-1","reason":"spam"}`
	for i := 0; i < 2; i++ {
		if w := f.do(http.MethodPost, "/api/flags", "sess-user", body); w.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d, want %d", i+1, w.Code, http.StatusCreated)
		}
	}

	w := f.do(http.MethodPost, "/api/flags", "sess-user", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// 通報以外のルートは通報用の制限を受けない
	if w := f.do(http.MethodGet, "/api/appeals", "sess-user", ""); w.Code != http.StatusOK {
		t.Errorf("appeals status = %d, want %d", w.Code, http.StatusOK)
	}
}
