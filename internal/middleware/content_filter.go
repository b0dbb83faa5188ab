package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/tradeguard/internal/model"
)

// SeverityHeader はコンテンツ判定の深刻度を返すレスポンスヘッダー。
const SeverityHeader = "X-Content-Severity"

const maxFilteredBodyBytes = 64 << 10

// ContentFilter はテキストのコンテンツ判定を行う。
type ContentFilter interface {
	FilterContent(ctx context.Context, text string) *model.FilterResult
}

// NewContentFilterMiddleware はJSONボディの指定フィールドを判定し、結果をリクエストに付与する。
// 判定結果はコンテキストとX-Content-Severityヘッダーに設定し、リクエスト自体は拒否しない。
// ボディの読み取りや解析に失敗した場合は判定せずに通過させる。
func NewContentFilterMiddleware(filter ContentFilter, fields ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxFilteredBodyBytes+1))
			r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(body), r.Body), Closer: r.Body}
			if err != nil || len(body) > maxFilteredBodyBytes {
				next.ServeHTTP(w, r)
				return
			}

			text, ok := extractText(body, fields)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			result := filter.FilterContent(r.Context(), text)
			if result == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !result.Passed {
				slog.Info("submitted text would be blocked",
					slog.String("path", r.URL.Path),
					slog.String("categories", strings.Join(result.Categories, ",")),
				)
			}
			w.Header().Set(SeverityHeader, result.Severity.String())
			ctx := context.WithValue(r.Context(), filterResultContextKey, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FilterResultFromContext はコンテンツフィルタミドルウェアが付与した判定結果を返す。
func FilterResultFromContext(ctx context.Context) (*model.FilterResult, bool) {
	res, ok := ctx.Value(filterResultContextKey).(*model.FilterResult)
	return res, ok && res != nil
}

// extractText はJSONオブジェクトから指定フィールドの文字列を改行区切りで連結する。
func extractText(body []byte, fields []string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", false
	}
	var parts []string
	for _, f := range fields {
		raw, ok := obj[f]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// readCloser は読み取り済みの先頭部分と残りのボディを連結し、元のボディをCloseする。
type readCloser struct {
	io.Reader
	io.Closer
}
