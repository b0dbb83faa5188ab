package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/tradeguard/internal/model"
)

var testCSRFConfig = CSRFConfig{CookieSecure: true, CookieDomain: "market.example.com"}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// csrfRequest はCookieとヘッダーのトークンを指定してリクエストを組み立てる。空文字は付与しない。
func csrfRequest(method, cookieToken, headerToken string) *http.Request {
	req := httptest.NewRequest(method, "/api/flags", nil)
	if cookieToken != "" {
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: cookieToken})
	}
	if headerToken != "" {
		req.Header.Set(csrfHeaderName, headerToken)
	}
	return req
}

func TestCSRFMiddleware_Validation(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		wantStatus int
	}{
		{"GETはトークン不要", http.MethodGet, "", "", http.StatusOK},
		{"HEADはトークン不要", http.MethodHead, "", "", http.StatusOK},
		{"OPTIONSはトークン不要", http.MethodOptions, "", "", http.StatusOK},
		{"POST 一致", http.MethodPost, "tok-1", "tok-1", http.StatusOK},
		{"PUT 一致", http.MethodPut, "tok-1", "tok-1", http.StatusOK},
		{"PATCH 一致", http.MethodPatch, "tok-1", "tok-1", http.StatusOK},
		{"DELETE 一致", http.MethodDelete, "tok-1", "tok-1", http.StatusOK},
		{"POST Cookieなし", http.MethodPost, "", "tok-1", http.StatusForbidden},
		{"POST ヘッダーなし", http.MethodPost, "tok-1", "", http.StatusForbidden},
		{"POST 不一致", http.MethodPost, "tok-1", "tok-2", http.StatusForbidden},
		{"POST 前方一致は不可", http.MethodPost, "tok-1", "tok-", http.StatusForbidden},
		{"PATCH トークンなし", http.MethodPatch, "", "", http.StatusForbidden},
		{"DELETE トークンなし", http.MethodDelete, "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewCSRFMiddleware(testCSRFConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, csrfRequest(tt.method, tt.cookie, tt.header))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("next called = %v", called)
			}
			if tt.wantStatus == http.StatusForbidden {
				if body := decodeErrorBody(t, w); body.Code != model.ErrCodeCSRFInvalid {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFInvalid)
				}
			}
		})
	}
}

func TestCSRFMiddleware_SafeMethodIssuesCookieOnce(t *testing.T) {
	h := NewCSRFMiddleware(testCSRFConfig)(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me/appeals", nil))

	c := findCookie(w.Result(), csrfCookieName)
	if c == nil {
		t.Fatal("expected CSRF cookie on first GET")
	}
	if len(c.Value) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(c.Value))
	}
	if c.HttpOnly {
		t.Error("CSRF cookie must be readable by the frontend")
	}
	if !c.Secure || c.Domain != "market.example.com" || c.Path != "/" {
		t.Errorf("cookie attributes = secure:%v domain:%q path:%q", c.Secure, c.Domain, c.Path)
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", c.SameSite)
	}
	if c.MaxAge != csrfCookieTTL {
		t.Errorf("MaxAge = %d, want %d", c.MaxAge, csrfCookieTTL)
	}

	// 既存Cookieがあれば再発行しない
	req := httptest.NewRequest(http.MethodGet, "/api/me/appeals", nil)
	req.AddCookie(c)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if findCookie(w.Result(), csrfCookieName) != nil {
		t.Error("existing CSRF cookie should not be replaced")
	}
}

func TestCSRFMiddleware_IssuedTokensAreUnique(t *testing.T) {
	h := NewCSRFMiddleware(testCSRFConfig)(okHandler())
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		c := findCookie(w.Result(), csrfCookieName)
		if c == nil {
			t.Fatal("expected CSRF cookie")
		}
		if seen[c.Value] {
			t.Fatalf("duplicate token issued: %s", c.Value)
		}
		seen[c.Value] = true
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	tests := []struct {
		name          string
		existing      string
		wantNewCookie bool
	}{
		{"Cookieなしは発行する", "", true},
		{"既存Cookieのトークンを返す", "existing-token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
			if tt.existing != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.existing})
			}
			w := httptest.NewRecorder()

			NewCSRFTokenHandler(testCSRFConfig).ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var body struct {
				Token string `json:"token"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			c := findCookie(resp, csrfCookieName)
			if tt.wantNewCookie {
				if c == nil {
					t.Fatal("expected CSRF cookie to be set")
				}
				if body.Token != c.Value {
					t.Errorf("token = %q, cookie = %q; should match", body.Token, c.Value)
				}
				return
			}
			if c != nil {
				t.Error("should not issue a new cookie when one exists")
			}
			if body.Token != tt.existing {
				t.Errorf("token = %q, want %q", body.Token, tt.existing)
			}
		})
	}
}

func TestCSRF_TokenFromHandlerPassesMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	NewCSRFTokenHandler(testCSRFConfig).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	c := findCookie(w.Result(), csrfCookieName)
	if c == nil {
		t.Fatal("expected CSRF cookie")
	}

	h := NewCSRFMiddleware(testCSRFConfig)(okHandler())
	w = httptest.NewRecorder()
	h.ServeHTTP(w, csrfRequest(http.MethodPost, c.Value, c.Value))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
