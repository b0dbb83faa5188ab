// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tradeguard/internal/model"
)

// SessionCookieName は外部の認証基盤が発行するセッションCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	principalContextKey    = contextKey("principal")
	holderContextKey       = contextKey("principal_holder")
	filterResultContextKey = contextKey("content_filter_result")
)

// PrincipalFinder はセッションIDからリクエスト元のPrincipalを解決する。
// repository.SessionRepositoryの部分集合として定義する。
type PrincipalFinder interface {
	FindPrincipal(ctx context.Context, sessionID string) (*model.Principal, error)
}

// NewSessionMiddleware はセッションCookieからPrincipalを解決し、リクエストコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(finder PrincipalFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			principal, err := finder.FindPrincipal(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session principal",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if principal == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// ContextWithPrincipal はコンテキストにPrincipalを注入する。
// ロギングミドルウェアの内側で呼ばれた場合はアクセスログにもユーザーIDを記録する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	if h, ok := ctx.Value(holderContextKey).(*principalHolder); ok && p != nil {
		h.userID = p.UserID
		h.moderator = p.IsModerator
	}
	return context.WithValue(ctx, principalContextKey, p)
}

func withPrincipalHolder(ctx context.Context, h *principalHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}

// PrincipalFromContext はリクエストコンテキストからPrincipalを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || p == nil || p.UserID == "" {
		return nil, false
	}
	return p, true
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	return p.UserID, true
}
