package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tradeguard/internal/model"
)

// BanChecker はユーザーのBANが現時点で有効かどうかを判定する。
type BanChecker interface {
	IsBanned(ctx context.Context, userID string) (bool, error)
}

// RequireModerator はモデレーター権限のないリクエストを403で拒否する。
// セッションミドルウェアの後に配置する。
func RequireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		if !p.IsModerator {
			slog.Warn("moderator permission required",
				slog.String("user_id", p.UserID),
				slog.String("path", r.URL.Path),
			)
			WriteErrorResponse(w, http.StatusForbidden, model.NewModeratorRequiredError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRequireNotBannedMiddleware はBAN中のユーザーのリクエストを403 USER_BANNEDで拒否する。
// BANの期限切れは判定時点で評価されるため、期限を過ぎた一時BANは通過する。
func NewRequireNotBannedMiddleware(checker BanChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			banned, err := checker.IsBanned(r.Context(), userID)
			if err != nil {
				slog.Error("failed to check ban state",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if banned {
				WriteErrorResponse(w, http.StatusForbidden, model.NewUserBannedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
