package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tradeguard/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードごとのHTTPステータス。未登録のコードは500になる。
var statusByCode = map[string]int{
	model.ErrCodeValidation:      http.StatusBadRequest,
	model.ErrCodeInvalidDuration: http.StatusBadRequest,
	model.ErrCodeInvalidRequest:  http.StatusBadRequest,

	model.ErrCodeUnauthorized: http.StatusUnauthorized,

	model.ErrCodeSelfBanForbidden:    http.StatusForbidden,
	model.ErrCodeModeratorRequired:   http.StatusForbidden,
	model.ErrCodeUserBanned:          http.StatusForbidden,
	model.ErrCodeCSRFInvalid:         http.StatusForbidden,
	model.ErrCodeFlagNotFound:        http.StatusNotFound,
	model.ErrCodeAppealNotFound:      http.StatusNotFound,
	model.ErrCodeActionNotFound:      http.StatusNotFound,
	model.ErrCodeUserNotFound:        http.StatusNotFound,
	model.ErrCodeTargetNotFound:      http.StatusNotFound,
	model.ErrCodeBlockedWordNotFound: http.StatusNotFound,

	model.ErrCodeDuplicateFlag:         http.StatusConflict,
	model.ErrCodeFlagAlreadyReviewed:   http.StatusConflict,
	model.ErrCodeDuplicateAppeal:       http.StatusConflict,
	model.ErrCodeAppealAlreadyReviewed: http.StatusConflict,

	model.ErrCodeRateLimited: http.StatusTooManyRequests,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は指定ステータスで統一エラーフォーマットのレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAPIError はエラーコードから決まるステータスでapiErrを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
}

// WriteError は任意のエラーをレスポンスに変換する。
// APIErrorはそのまま返し、それ以外は詳細をログに残して500を返す。
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteAPIError(w, apiErr)
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("internal server error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}

// WriteInternalServerError は詳細を含まない500レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
