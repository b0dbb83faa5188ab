package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/tradeguard/internal/model"
)

// --- モック定義 ---

type mockPrincipalFinder struct {
	findPrincipalFn func(ctx context.Context, sessionID string) (*model.Principal, error)
}

func (m *mockPrincipalFinder) FindPrincipal(ctx context.Context, sessionID string) (*model.Principal, error) {
	if m.findPrincipalFn != nil {
		return m.findPrincipalFn(ctx, sessionID)
	}
	return nil, nil
}

// withPrincipal はテスト用にPrincipal付きのリクエストを生成する。
func withPrincipal(req *http.Request, userID string, moderator bool) *http.Request {
	ctx := ContextWithPrincipal(req.Context(), &model.Principal{UserID: userID, IsModerator: moderator})
	return req.WithContext(ctx)
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsPrincipal(t *testing.T) {
	finder := &mockPrincipalFinder{
		findPrincipalFn: func(ctx context.Context, sessionID string) (*model.Principal, error) {
			if sessionID == "valid-session-id" {
				return &model.Principal{UserID: "user-123", IsModerator: true}, nil
			}
			return nil, nil
		},
	}

	var captured *model.Principal
	handler := NewSessionMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Error("expected principal in context")
		}
		captured = p
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured == nil || captured.UserID != "user-123" || !captured.IsModerator {
		t.Errorf("principal = %+v, want user-123 moderator", captured)
	}
}

func TestSessionMiddleware_Unauthenticated_Returns401(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
		finder *mockPrincipalFinder
	}{
		{
			name:   "Cookieなし",
			finder: &mockPrincipalFinder{},
		},
		{
			name:   "空のCookie",
			cookie: &http.Cookie{Name: SessionCookieName, Value: ""},
			finder: &mockPrincipalFinder{},
		},
		{
			name:   "期限切れまたは不明なセッション",
			cookie: &http.Cookie{Name: SessionCookieName, Value: "expired"},
			finder: &mockPrincipalFinder{},
		},
		{
			name:   "リポジトリエラー",
			cookie: &http.Cookie{Name: SessionCookieName, Value: "any"},
			finder: &mockPrincipalFinder{
				findPrincipalFn: func(ctx context.Context, sessionID string) (*model.Principal, error) {
					return nil, errors.New("db down")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(tt.finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			body := decodeErrorBody(t, w)
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestUserIDFromContext_NoPrincipal(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Error("expected ok=false for empty context")
	}
	ctx := ContextWithPrincipal(context.Background(), &model.Principal{})
	if _, ok := UserIDFromContext(ctx); ok {
		t.Error("expected ok=false for principal without user id")
	}
}

func TestUserIDFromContext_WithPrincipal(t *testing.T) {
	ctx := ContextWithPrincipal(context.Background(), &model.Principal{UserID: "user-1"})
	userID, ok := UserIDFromContext(ctx)
	if !ok || userID != "user-1" {
		t.Errorf("UserIDFromContext = (%q, %v), want (user-1, true)", userID, ok)
	}
}
