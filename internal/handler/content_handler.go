package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/tradeguard/internal/middleware"
	"github.com/hitoshi/tradeguard/internal/model"
)

// ContentFilterInterface はテキストの判定を行う。
type ContentFilterInterface interface {
	FilterContent(ctx context.Context, text string) *model.FilterResult
}

// ContentScreener は判定と同時に、拒否相当の投稿を自動通報する。
type ContentScreener interface {
	Screen(ctx context.Context, authorID string, targetType model.TargetType, targetID, text string) *model.FilterResult
}

// ContentHandler はコンテンツ判定のHTTPハンドラー。
type ContentHandler struct {
	filter   ContentFilterInterface
	screener ContentScreener
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(filter ContentFilterInterface, screener ContentScreener) *ContentHandler {
	return &ContentHandler{filter: filter, screener: screener}
}

// checkContentRequest は判定リクエストのボディ。
// target_typeとtarget_idを指定した場合は拒否相当の投稿を自動通報する。
type checkContentRequest struct {
	Text       string `json:"text"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
}

// CheckContent はテキストを判定して結果を返す。判定は常に200で返す。
// POST /api/content/check
func (h *ContentHandler) CheckContent(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req checkContentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var result *model.FilterResult
	switch {
	case req.TargetType != "" && req.TargetID != "" && h.screener != nil:
		result = h.screener.Screen(r.Context(), p.UserID, model.TargetType(req.TargetType), req.TargetID, req.Text)
	default:
		if cached, ok := middleware.FilterResultFromContext(r.Context()); ok {
			result = cached
		} else {
			result = h.filter.FilterContent(r.Context(), req.Text)
		}
	}

	if result.Violations == nil {
		result.Violations = []model.Violation{}
	}
	if result.Categories == nil {
		result.Categories = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}
