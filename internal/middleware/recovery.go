package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// headerTracker はレスポンスヘッダーが送信済みかどうかを記録する。
type headerTracker struct {
	http.ResponseWriter
	sent bool
}

func (t *headerTracker) WriteHeader(code int) {
	t.sent = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *headerTracker) Write(b []byte) (int, error) {
	t.sent = true
	return t.ResponseWriter.Write(b)
}

// NewRecoveryMiddleware はハンドラー内のpanicを回収してログに残し、500を返すミドルウェアを生成する。
// ヘッダー送信後のpanicではステータスを書き換えられないため、ログのみ記録する。
// http.ErrAbortHandlerは接続中断の合図なので再送出する。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &headerTracker{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("headers_sent", tw.sent),
					slog.String("stack", string(debug.Stack())),
				}
				// セッション解決はこのミドルウェアより内側で行われるため、ホルダー経由で参照する
				if h, ok := r.Context().Value(holderContextKey).(*principalHolder); ok && h.userID != "" {
					attrs = append(attrs, slog.String("user_id", h.userID))
				}
				logger.Error("panic recovered", attrs...)

				if !tw.sent {
					WriteInternalServerError(tw)
				}
			}()
			next.ServeHTTP(tw, r)
		})
	}
}
