package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tradeguard/internal/appeal"
	"github.com/hitoshi/tradeguard/internal/model"
)

// AppealServiceInterface は異議申し立てハンドラーが必要とするサービスインターフェース。
type AppealServiceInterface interface {
	Submit(ctx context.Context, userID, actionID, reason string) (*model.Appeal, error)
	Review(ctx context.Context, in appeal.ReviewInput) (*model.Appeal, error)
	ListPending(ctx context.Context, limit int) ([]*model.Appeal, error)
	ListMine(ctx context.Context, userID string) ([]*model.Appeal, error)
}

// AppealHandler は異議申し立てのHTTPハンドラー。
type AppealHandler struct {
	service AppealServiceInterface
}

// NewAppealHandler はAppealHandlerを生成する。
func NewAppealHandler(service AppealServiceInterface) *AppealHandler {
	return &AppealHandler{service: service}
}

type submitAppealRequest struct {
	ModerationActionID string `json:"moderation_action_id"`
	Reason             string `json:"reason"`
}

type reviewAppealRequest struct {
	Decision      string `json:"decision"`
	ReverseAction bool   `json:"reverse_action"`
}

// appealResponse は異議申し立てのAPIレスポンス。
type appealResponse struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	ModerationActionID string     `json:"moderation_action_id"`
	Reason             string     `json:"reason"`
	Status             string     `json:"status"`
	ReverseAction      bool       `json:"reverse_action"`
	SubmittedAt        time.Time  `json:"submitted_at"`
	ReviewedAt         *time.Time `json:"reviewed_at"`
	ReviewedBy         *string    `json:"reviewed_by"`
}

// SubmitAppeal は自分が受けた措置への異議申し立てを受け付ける。BAN中でも利用できる。
// POST /api/appeals
func (h *AppealHandler) SubmitAppeal(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req submitAppealRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.Submit(r.Context(), p.UserID, req.ModerationActionID, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppealResponse(a))
}

// ListMyAppeals は自分の異議申し立て一覧を返す。
// GET /api/appeals
func (h *AppealHandler) ListMyAppeals(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	appeals, err := h.service.ListMine(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppealResponses(appeals))
}

// ListPendingAppeals は審査待ちの異議申し立て一覧を返す。
// GET /api/moderation/appeals
func (h *AppealHandler) ListPendingAppeals(w http.ResponseWriter, r *http.Request) {
	appeals, err := h.service.ListPending(r.Context(), parseLimit(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppealResponses(appeals))
}

// ReviewAppeal は異議申し立てを審査する。
// POST /api/moderation/appeals/{id}/review
func (h *AppealHandler) ReviewAppeal(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req reviewAppealRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.Review(r.Context(), appeal.ReviewInput{
		AppealID:    chi.URLParam(r, "id"),
		ModeratorID: p.UserID,
		Decision:    model.AppealStatus(req.Decision),
		Reverse:     req.ReverseAction,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppealResponse(a))
}

func toAppealResponse(a *model.Appeal) appealResponse {
	return appealResponse{
		ID:                 a.ID,
		UserID:             a.UserID,
		ModerationActionID: a.ModerationActionID,
		Reason:             a.Reason,
		Status:             string(a.Status),
		ReverseAction:      a.ReverseAction,
		SubmittedAt:        a.SubmittedAt,
		ReviewedAt:         a.ReviewedAt,
		ReviewedBy:         a.ReviewedBy,
	}
}

func toAppealResponses(appeals []*model.Appeal) []appealResponse {
	resp := make([]appealResponse, len(appeals))
	for i, a := range appeals {
		resp[i] = toAppealResponse(a)
	}
	return resp
}
