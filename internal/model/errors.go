// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, moderation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation            = "VALIDATION_FAILED"
	ErrCodeInvalidDuration       = "INVALID_DURATION"
	ErrCodeDuplicateFlag         = "DUPLICATE_FLAG"
	ErrCodeFlagNotFound          = "FLAG_NOT_FOUND"
	ErrCodeFlagAlreadyReviewed   = "FLAG_ALREADY_REVIEWED"
	ErrCodeDuplicateAppeal       = "DUPLICATE_APPEAL"
	ErrCodeAppealNotFound        = "APPEAL_NOT_FOUND"
	ErrCodeAppealAlreadyReviewed = "APPEAL_ALREADY_REVIEWED"
	ErrCodeActionNotFound        = "MODERATION_ACTION_NOT_FOUND"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeTargetNotFound        = "TARGET_NOT_FOUND"
	ErrCodeBlockedWordNotFound   = "BLOCKED_WORD_NOT_FOUND"
	ErrCodeSelfBanForbidden      = "SELF_BAN_FORBIDDEN"
	ErrCodeModeratorRequired     = "MODERATOR_REQUIRED"
	ErrCodeUserBanned            = "USER_BANNED"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeRateLimited           = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid           = "CSRF_TOKEN_INVALID"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewDurationNotPositiveError は停止日数が0以下の場合のエラーを生成する。
func NewDurationNotPositiveError(days int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDuration,
		Message:  fmt.Sprintf("duration must be positive: %d", days),
		Category: "validation",
		Action:   "一時BANの日数は1以上の整数で指定してください。",
	}
}

// NewDurationTooLongError は停止日数が上限を超える場合のエラーを生成する。
func NewDurationTooLongError(days, max int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDuration,
		Message:  fmt.Sprintf("duration exceeds maximum %d days: %d", max, days),
		Category: "validation",
		Action:   fmt.Sprintf("一時BANの日数は%d日以下で指定してください。", max),
	}
}

// NewDurationRequiredError は一時BANに日数が指定されていない場合のエラーを生成する。
func NewDurationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDuration,
		Message:  "duration required for temporary_ban",
		Category: "validation",
		Action:   "一時BANには日数（duration_days）を指定してください。",
	}
}

// NewDuplicateFlagError は同一対象への審査待ち通報が既に存在する場合のエラーを生成する。
func NewDuplicateFlagError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateFlag,
		Message:  "この対象への通報は既に受け付けられ、審査待ちです。",
		Category: "moderation",
		Action:   "モデレーターの審査結果をお待ちください。",
	}
}

// NewFlagNotFoundError は通報が見つからない場合のエラーを生成する。
func NewFlagNotFoundError(flagID string) *APIError {
	return &APIError{
		Code:     ErrCodeFlagNotFound,
		Message:  fmt.Sprintf("指定された通報が見つかりません: %s", flagID),
		Category: "moderation",
		Action:   "通報IDを確認してください。",
	}
}

// NewFlagAlreadyReviewedError は審査済みの通報を再審査しようとした場合のエラーを生成する。
func NewFlagAlreadyReviewedError(flagID string) *APIError {
	return &APIError{
		Code:     ErrCodeFlagAlreadyReviewed,
		Message:  fmt.Sprintf("通報は既に審査済みです: %s", flagID),
		Category: "moderation",
		Action:   "審査待ちの通報一覧を再読み込みしてください。",
	}
}

// NewDuplicateAppealError は同一措置への異議申し立てが既に存在する場合のエラーを生成する。
func NewDuplicateAppealError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateAppeal,
		Message:  "この措置への異議申し立ては既に提出されています。",
		Category: "moderation",
		Action:   "異議申し立ての審査結果をお待ちください。",
	}
}

// NewAppealNotFoundError は異議申し立てが見つからない場合のエラーを生成する。
func NewAppealNotFoundError(appealID string) *APIError {
	return &APIError{
		Code:     ErrCodeAppealNotFound,
		Message:  fmt.Sprintf("指定された異議申し立てが見つかりません: %s", appealID),
		Category: "moderation",
		Action:   "異議申し立てIDを確認してください。",
	}
}

// NewAppealAlreadyReviewedError は審査済みの異議申し立てを再審査しようとした場合のエラーを生成する。
func NewAppealAlreadyReviewedError(appealID string) *APIError {
	return &APIError{
		Code:     ErrCodeAppealAlreadyReviewed,
		Message:  fmt.Sprintf("異議申し立ては既に審査済みです: %s", appealID),
		Category: "moderation",
		Action:   "審査待ちの異議申し立て一覧を再読み込みしてください。",
	}
}

// NewActionNotFoundError はモデレーション措置が見つからない場合のエラーを生成する。
func NewActionNotFoundError(actionID string) *APIError {
	return &APIError{
		Code:     ErrCodeActionNotFound,
		Message:  fmt.Sprintf("指定されたモデレーション措置が見つかりません: %s", actionID),
		Category: "moderation",
		Action:   "措置IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", userID),
		Category: "moderation",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewTargetNotFoundError は通報・措置の対象が見つからない場合のエラーを生成する。
func NewTargetNotFoundError(targetType TargetType, targetID string) *APIError {
	return &APIError{
		Code:     ErrCodeTargetNotFound,
		Message:  fmt.Sprintf("対象が見つかりません: %s/%s", targetType, targetID),
		Category: "moderation",
		Action:   "対象の種別とIDを確認してください。",
	}
}

// NewBlockedWordNotFoundError はブロックワードが見つからない場合のエラーを生成する。
func NewBlockedWordNotFoundError(word string) *APIError {
	return &APIError{
		Code:     ErrCodeBlockedWordNotFound,
		Message:  fmt.Sprintf("ブロックワードが見つかりません: %s", word),
		Category: "moderation",
		Action:   "ブロックワード一覧を確認してください。",
	}
}

// NewSelfBanForbiddenError はモデレーターが自分自身をBANしようとした場合のエラーを生成する。
func NewSelfBanForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfBanForbidden,
		Message:  "自分自身をBANすることはできません。",
		Category: "moderation",
		Action:   "別のモデレーターに対応を依頼してください。",
	}
}

// NewModeratorRequiredError はモデレーター権限のないユーザーが操作した場合のエラーを生成する。
func NewModeratorRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeModeratorRequired,
		Message:  "この操作にはモデレーター権限が必要です。",
		Category: "auth",
		Action:   "モデレーター権限を持つアカウントで操作してください。",
	}
}

// NewUserBannedError はBAN中のユーザーが制限対象の操作をした場合のエラーを生成する。
func NewUserBannedError() *APIError {
	return &APIError{
		Code:     ErrCodeUserBanned,
		Message:  "アカウントは利用停止中です。",
		Category: "auth",
		Action:   "措置に異議がある場合は異議申し立てを行ってください。",
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディが解析できない場合のエラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   fmt.Sprintf("%d秒ほど待ってから再度お試しください。", retryAfterSec),
	}
}

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
