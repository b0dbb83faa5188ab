package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/tradeguard/internal/model"
)

const (
	defaultStatsDays   = 7
	maxStatsDays       = 90
	recentFlagsInStats = 10
)

// StatsProvider はモデレーション統計を集計する。
type StatsProvider interface {
	ModerationStats(ctx context.Context, since time.Time, recentLimit int) (*model.ModerationStats, error)
}

// StatsHandler はモデレーション統計のHTTPハンドラー。
type StatsHandler struct {
	stats StatsProvider
	now   func() time.Time
}

// NewStatsHandler はStatsHandlerを生成する。
func NewStatsHandler(stats StatsProvider) *StatsHandler {
	return &StatsHandler{stats: stats, now: time.Now}
}

// statsResponse は統計のAPIレスポンス。
// 直近の通報は件数（recent_flag_count）と一覧（recent_flags）を別キーで返す。
type statsResponse struct {
	PendingFlags    int            `json:"pending_flags"`
	PendingAppeals  int            `json:"pending_appeals"`
	ActiveBans      int            `json:"active_bans"`
	ActionsByType   map[string]int `json:"actions_by_type"`
	RecentFlagCount int            `json:"recent_flag_count"`
	RecentFlags     []flagResponse `json:"recent_flags"`
	Since           time.Time      `json:"since"`
}

// GetStats は指定日数（既定7日、最大90日）の統計を返す。
// GET /api/moderation/stats?days=7
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	days := defaultStatsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStatsDays {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("days must be between 1 and 90"))
			return
		}
		days = n
	}

	since := h.now().AddDate(0, 0, -days)
	stats, err := h.stats.ModerationStats(r.Context(), since, recentFlagsInStats)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := statsResponse{
		PendingFlags:    stats.PendingFlags,
		PendingAppeals:  stats.PendingAppeals,
		ActiveBans:      stats.ActiveBans,
		ActionsByType:   make(map[string]int, 4),
		RecentFlagCount: stats.RecentFlagCount,
		RecentFlags:     make([]flagResponse, len(stats.RecentFlags)),
		Since:           stats.Since,
	}
	for _, t := range []model.ActionType{model.ActionTypeWarning, model.ActionTypeContentRemoval, model.ActionTypeTemporaryBan, model.ActionTypePermanentBan} {
		resp.ActionsByType[string(t)] = stats.ActionsByType[t]
	}
	for i, f := range stats.RecentFlags {
		resp.RecentFlags[i] = toFlagResponse(f)
	}
	writeJSON(w, http.StatusOK, resp)
}
