package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tradeguard/internal/flag"
	"github.com/hitoshi/tradeguard/internal/middleware"
	"github.com/hitoshi/tradeguard/internal/model"
)

// FlagServiceInterface は通報ハンドラーが必要とするサービスインターフェース。
type FlagServiceInterface interface {
	// Submit は手動通報を受け付ける。
	Submit(ctx context.Context, in flag.SubmitInput) (*model.Flag, error)
	// Review は審査待ちの通報を認容または却下する。
	Review(ctx context.Context, in flag.ReviewInput) (*flag.ReviewResult, error)
	// ListPending は審査待ち通報をスニペット付きで古い順に返す。
	ListPending(ctx context.Context, limit int) ([]*model.FlagWithContext, error)
}

// FlagHandler は通報のHTTPハンドラー。
type FlagHandler struct {
	service FlagServiceInterface
}

// NewFlagHandler はFlagHandlerを生成する。
func NewFlagHandler(service FlagServiceInterface) *FlagHandler {
	return &FlagHandler{service: service}
}

// submitFlagRequest は通報リクエストのボディ。
type submitFlagRequest struct {
	TargetType  string `json:"target_type"`
	TargetID    string `json:"target_id"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// actionSpecRequest はモデレーション措置の指定。
type actionSpecRequest struct {
	ActionType   string `json:"action_type"`
	Reason       string `json:"reason"`
	DurationDays *int   `json:"duration_days"`
}

func (a *actionSpecRequest) toSpec() *model.ActionSpec {
	if a == nil {
		return nil
	}
	return &model.ActionSpec{
		ActionType:   model.ActionType(a.ActionType),
		Reason:       a.Reason,
		DurationDays: a.DurationDays,
	}
}

// reviewFlagRequest は通報審査リクエストのボディ。
type reviewFlagRequest struct {
	Decision string             `json:"decision"`
	Action   *actionSpecRequest `json:"action"`
}

// flagResponse は通報のAPIレスポンス。
type flagResponse struct {
	ID                 string     `json:"id"`
	ReporterID         string     `json:"reporter_id"`
	TargetType         string     `json:"target_type"`
	TargetID           string     `json:"target_id"`
	Reason             string     `json:"reason"`
	Description        string     `json:"description"`
	Status             string     `json:"status"`
	Source             string     `json:"source"`
	CreatedAt          time.Time  `json:"created_at"`
	ReviewedAt         *time.Time `json:"reviewed_at"`
	ReviewedBy         *string    `json:"reviewed_by"`
	ModerationActionID *string    `json:"moderation_action_id"`
}

// submitFlagResponse は通報受付のレスポンス。
// description_severityは説明文のコンテンツ判定結果で、判定していない場合は省略する。
type submitFlagResponse struct {
	flagResponse
	DescriptionSeverity string `json:"description_severity,omitempty"`
}

// pendingFlagResponse はモデレーター向けの審査待ち通報レスポンス。
type pendingFlagResponse struct {
	flagResponse
	ReporterName  string `json:"reporter_name"`
	TargetSnippet string `json:"target_snippet"`
}

// reviewFlagResponse は通報審査結果のレスポンス。
type reviewFlagResponse struct {
	Flag     flagResponse      `json:"flag"`
	Action   *actionResponse   `json:"action,omitempty"`
	Sanction *sanctionResponse `json:"sanction,omitempty"`
}

// SubmitFlag は通報を受け付ける。
// POST /api/flags
func (h *FlagHandler) SubmitFlag(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req submitFlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	f, err := h.service.Submit(r.Context(), flag.SubmitInput{
		ReporterID:  p.UserID,
		TargetType:  model.TargetType(req.TargetType),
		TargetID:    req.TargetID,
		Reason:      model.FlagReason(req.Reason),
		Description: req.Description,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := submitFlagResponse{flagResponse: toFlagResponse(f)}
	if check, ok := middleware.FilterResultFromContext(r.Context()); ok {
		resp.DescriptionSeverity = check.Severity.String()
		if !check.Passed {
			// 通報文自体が不適切な場合は、通報の乱用としてモデレーターが追えるよう記録する
			slog.Warn("flag description contains blocked content",
				slog.String("flag_id", f.ID),
				slog.String("reporter_id", p.UserID),
				slog.String("categories", strings.Join(check.Categories, ",")),
			)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListPendingFlags は審査待ち通報の一覧を返す。
// GET /api/moderation/flags
func (h *FlagHandler) ListPendingFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.service.ListPending(r.Context(), parseLimit(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]pendingFlagResponse, len(flags))
	for i, f := range flags {
		resp[i] = pendingFlagResponse{
			flagResponse:  toFlagResponse(&f.Flag),
			ReporterName:  f.ReporterName,
			TargetSnippet: f.TargetSnippet,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReviewFlag は通報を審査する。
// POST /api/moderation/flags/{id}/review
func (h *FlagHandler) ReviewFlag(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req reviewFlagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Review(r.Context(), flag.ReviewInput{
		FlagID:      chi.URLParam(r, "id"),
		ModeratorID: p.UserID,
		Decision:    model.FlagDecision(req.Decision),
		Action:      req.Action.toSpec(),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := reviewFlagResponse{Flag: toFlagResponse(result.Flag)}
	if result.Action != nil {
		a := toActionResponse(result.Action)
		resp.Action = &a
	}
	if result.State != nil {
		s := toSanctionResponse(*result.State)
		resp.Sanction = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- ヘルパー関数 ---

// toFlagResponse はmodel.FlagからAPIレスポンスに変換する。
func toFlagResponse(f *model.Flag) flagResponse {
	return flagResponse{
		ID:                 f.ID,
		ReporterID:         f.ReporterID,
		TargetType:         string(f.TargetType),
		TargetID:           f.TargetID,
		Reason:             string(f.Reason),
		Description:        f.Description,
		Status:             string(f.Status),
		Source:             string(f.Source),
		CreatedAt:          f.CreatedAt,
		ReviewedAt:         f.ReviewedAt,
		ReviewedBy:         f.ReviewedBy,
		ModerationActionID: f.ModerationActionID,
	}
}
