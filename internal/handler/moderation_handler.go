package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tradeguard/internal/model"
	"github.com/hitoshi/tradeguard/internal/moderation"
)

// ModerationServiceInterface はモデレーションハンドラーが必要とするサービスインターフェース。
type ModerationServiceInterface interface {
	Record(ctx context.Context, in moderation.RecordInput) (*moderation.RecordResult, error)
	Unban(ctx context.Context, moderatorID, userID string) (*moderation.UnbanResult, error)
	Status(ctx context.Context, userID string) (*moderation.Status, error)
	History(ctx context.Context, userID string, limit int) ([]*model.ModerationAction, error)
}

// ModerationHandler はモデレーション措置のHTTPハンドラー。
type ModerationHandler struct {
	service ModerationServiceInterface
}

// NewModerationHandler はModerationHandlerを生成する。
func NewModerationHandler(service ModerationServiceInterface) *ModerationHandler {
	return &ModerationHandler{service: service}
}

// moderateUserRequest は措置リクエストのボディ。
// target_typeとtarget_idを省略した場合はパスのユーザー自身を対象とする。
type moderateUserRequest struct {
	actionSpecRequest
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

// actionResponse はモデレーション措置のAPIレスポンス。
type actionResponse struct {
	ID            string    `json:"id"`
	ModeratorID   string    `json:"moderator_id"`
	TargetType    string    `json:"target_type"`
	TargetID      string    `json:"target_id"`
	SubjectUserID string    `json:"subject_user_id"`
	ActionType    string    `json:"action_type"`
	Reason        string    `json:"reason"`
	DurationHours *int      `json:"duration_hours"`
	FlagID        *string   `json:"flag_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// sanctionResponse はユーザーの制裁状態のAPIレスポンス。
type sanctionResponse struct {
	WarningCount int        `json:"warning_count"`
	IsBanned     bool       `json:"is_banned"`
	BannedUntil  *time.Time `json:"banned_until"`
}

// moderateUserResponse は措置記録結果のレスポンス。
// banned_untilは今回のBAN措置で設定された期限で、永久BANとBAN以外の措置ではnull。
type moderateUserResponse struct {
	BannedUntil *time.Time       `json:"banned_until"`
	Action      actionResponse   `json:"action"`
	Sanction    sanctionResponse `json:"sanction"`
}

// unbanResponse はBAN解除結果のレスポンス。
type unbanResponse struct {
	UserID     string    `json:"user_id"`
	UnbannedAt time.Time `json:"unbanned_at"`
	WasBanned  bool      `json:"was_banned"`
	Message    string    `json:"message"`
}

// recommendationResponse は次の措置の提案。
type recommendationResponse struct {
	ActionType   string `json:"action_type"`
	DurationDays *int   `json:"duration_days"`
}

// userStatusResponse はユーザーの制裁状態と措置履歴のレスポンス。
type userStatusResponse struct {
	UserID         string                 `json:"user_id"`
	WarningCount   int                    `json:"warning_count"`
	IsBanned       bool                   `json:"is_banned"`
	BannedUntil    *time.Time             `json:"banned_until"`
	ActiveBan      bool                   `json:"active_ban"`
	Recommendation recommendationResponse `json:"recommendation"`
	History        []actionResponse       `json:"history"`
}

// ModerateUser はユーザーまたはその投稿に措置を記録する。
// POST /api/moderation/users/{id}/actions
func (h *ModerationHandler) ModerateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req moderateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := chi.URLParam(r, "id")
	targetType := model.TargetType(req.TargetType)
	targetID := req.TargetID
	if targetType == "" {
		targetType = model.TargetTypeUser
	}
	if targetType == model.TargetTypeUser {
		if targetID != "" && targetID != userID {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("target_id must match the user in the path"))
			return
		}
		targetID = userID
	}

	result, err := h.service.Record(r.Context(), moderation.RecordInput{
		ModeratorID: p.UserID,
		TargetType:  targetType,
		TargetID:    targetID,
		Spec:        *req.actionSpecRequest.toSpec(),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var bannedUntil *time.Time
	if result.Action.ActionType.IsBan() {
		bannedUntil = result.State.BannedUntil
	}
	writeJSON(w, http.StatusOK, moderateUserResponse{
		BannedUntil: bannedUntil,
		Action:      toActionResponse(result.Action),
		Sanction:    toSanctionResponse(result.State),
	})
}

// UnbanUser はユーザーのBANを解除する。
// POST /api/moderation/users/{id}/unban
func (h *ModerationHandler) UnbanUser(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	result, err := h.service.Unban(r.Context(), p.UserID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, unbanResponse{
		UserID:     result.UserID,
		UnbannedAt: result.UnbannedAt,
		WasBanned:  result.WasBanned,
		Message:    result.Message(),
	})
}

// GetUserStatus はユーザーの制裁状態と措置履歴を返す。
// GET /api/moderation/users/{id}
func (h *ModerationHandler) GetUserStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	status, err := h.service.Status(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	history, err := h.service.History(r.Context(), userID, parseLimit(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := userStatusResponse{
		UserID:       status.UserID,
		WarningCount: status.WarningCount,
		IsBanned:     status.IsBanned,
		BannedUntil:  status.BannedUntil,
		ActiveBan:    status.ActiveBan,
		Recommendation: recommendationResponse{
			ActionType:   string(status.Recommendation.ActionType),
			DurationDays: status.Recommendation.DurationDays,
		},
		History: make([]actionResponse, len(history)),
	}
	for i, a := range history {
		resp.History[i] = toActionResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// toActionResponse はmodel.ModerationActionからAPIレスポンスに変換する。
func toActionResponse(a *model.ModerationAction) actionResponse {
	return actionResponse{
		ID:            a.ID,
		ModeratorID:   a.ModeratorID,
		TargetType:    string(a.TargetType),
		TargetID:      a.TargetID,
		SubjectUserID: a.SubjectUserID,
		ActionType:    string(a.ActionType),
		Reason:        a.Reason,
		DurationHours: a.DurationHours,
		FlagID:        a.FlagID,
		CreatedAt:     a.CreatedAt,
	}
}

func toSanctionResponse(s model.SanctionState) sanctionResponse {
	return sanctionResponse{
		WarningCount: s.WarningCount,
		IsBanned:     s.IsBanned,
		BannedUntil:  s.BannedUntil,
	}
}
