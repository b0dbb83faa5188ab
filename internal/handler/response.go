package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/tradeguard/internal/middleware"
	"github.com/hitoshi/tradeguard/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSON はリクエストボディをJSONとしてデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// requirePrincipal は認証済みのPrincipalを返す。未認証の場合は401を書き込みfalseを返す。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}
	return p, true
}

// parseLimit はクエリパラメータlimitを解釈する。未指定や不正値の場合は0を返し、サービス層の既定値に任せる。
func parseLimit(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットで書き込む。
func handleServiceError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, slog.Default(), err)
}
