package handler

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tradeguard/internal/model"
)

// BlockedWordServiceInterface はブロックワード管理ハンドラーが必要とするインターフェース。
type BlockedWordServiceInterface interface {
	List(ctx context.Context) ([]*model.BlockedWord, error)
	Add(ctx context.Context, word string, category model.BlockedWordCategory, severity model.WordSeverity, reason, actorID string) (*model.BlockedWord, error)
	Remove(ctx context.Context, word string) error
}

// BlockedWordHandler はブロックワード管理のHTTPハンドラー。
type BlockedWordHandler struct {
	service BlockedWordServiceInterface
}

// NewBlockedWordHandler はBlockedWordHandlerを生成する。
func NewBlockedWordHandler(service BlockedWordServiceInterface) *BlockedWordHandler {
	return &BlockedWordHandler{service: service}
}

type addBlockedWordRequest struct {
	Word     string `json:"word"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
}

// blockedWordResponse はブロックワードのAPIレスポンス。
type blockedWordResponse struct {
	ID        string    `json:"id"`
	Word      string    `json:"word"`
	Category  string    `json:"category"`
	Severity  string    `json:"severity"`
	Reason    string    `json:"reason"`
	Active    bool      `json:"active"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListBlockedWords は無効化済みを含むブロックワード一覧を返す。
// GET /api/moderation/blocked-words
func (h *BlockedWordHandler) ListBlockedWords(w http.ResponseWriter, r *http.Request) {
	words, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := make([]blockedWordResponse, len(words))
	for i, bw := range words {
		resp[i] = toBlockedWordResponse(bw)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddBlockedWord はブロックワードを登録する。
// POST /api/moderation/blocked-words
func (h *BlockedWordHandler) AddBlockedWord(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req addBlockedWordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	bw, err := h.service.Add(r.Context(), req.Word, model.BlockedWordCategory(req.Category), model.WordSeverity(req.Severity), req.Reason, p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockedWordResponse(bw))
}

// RemoveBlockedWord はブロックワードを無効化する。
// DELETE /api/moderation/blocked-words/{word}
func (h *BlockedWordHandler) RemoveBlockedWord(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "word")
	word, err := url.PathUnescape(raw)
	if err != nil {
		word = raw
	}

	if err := h.service.Remove(r.Context(), word); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toBlockedWordResponse(bw *model.BlockedWord) blockedWordResponse {
	return blockedWordResponse{
		ID:        bw.ID,
		Word:      bw.Word,
		Category:  string(bw.Category),
		Severity:  string(bw.Severity),
		Reason:    bw.Reason,
		Active:    bw.Active,
		CreatedBy: bw.CreatedBy,
		CreatedAt: bw.CreatedAt,
		UpdatedAt: bw.UpdatedAt,
	}
}
