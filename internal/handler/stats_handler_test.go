package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/tradeguard/internal/model"
)

func newTestStatsHandler(p *mockStatsProvider) *StatsHandler {
	h := NewStatsHandler(p)
	h.now = func() time.Time { return fixedTime }
	return h
}

func TestStatsHandler_GetStats_DefaultWindow(t *testing.T) {
	p := &mockStatsProvider{
		stats: &model.ModerationStats{
			PendingFlags:    4,
			PendingAppeals:  1,
			ActiveBans:      2,
			ActionsByType:   map[model.ActionType]int{model.ActionTypeWarning: 3},
			RecentFlagCount: 12,
			RecentFlags:     []*model.Flag{{ID: "flag-9", Status: model.FlagStatusPending}},
			Since:           fixedTime.AddDate(0, 0, -7),
		},
	}
	h := newTestStatsHandler(p)

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/moderation/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !p.gotSince.Equal(fixedTime.AddDate(0, 0, -7)) {
		t.Errorf("since = %v, want 7 days before %v", p.gotSince, fixedTime)
	}
	if p.gotRecent != 10 {
		t.Errorf("recentLimit = %d, want 10", p.gotRecent)
	}

	var result struct {
		PendingFlags    int                      `json:"pending_flags"`
		ActiveBans      int                      `json:"active_bans"`
		ActionsByType   map[string]int           `json:"actions_by_type"`
		RecentFlagCount int                      `json:"recent_flag_count"`
		RecentFlags     []map[string]interface{} `json:"recent_flags"`
	}
	decodeBody(t, w, &result)
	if result.PendingFlags != 4 || result.ActiveBans != 2 {
		t.Errorf("pending/bans = %d/%d, want 4/2", result.PendingFlags, result.ActiveBans)
	}
	if len(result.ActionsByType) != 4 {
		t.Errorf("actions_by_type = %v, want all 4 types", result.ActionsByType)
	}
	if result.ActionsByType["warning"] != 3 || result.ActionsByType["permanent_ban"] != 0 {
		t.Errorf("actions_by_type = %v", result.ActionsByType)
	}
	if result.RecentFlagCount != 12 || len(result.RecentFlags) != 1 {
		t.Errorf("recent = %d/%d, want 12/1", result.RecentFlagCount, len(result.RecentFlags))
	}
}

func TestStatsHandler_GetStats_DaysParam(t *testing.T) {
	tests := []struct {
		query      string
		wantStatus int
		wantDays   int
	}{
		{"?days=30", http.StatusOK, 30},
		{"?days=90", http.StatusOK, 90},
		{"?days=0", http.StatusBadRequest, 0},
		{"?days=91", http.StatusBadRequest, 0},
		{"?days=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := &mockStatsProvider{}
			h := newTestStatsHandler(p)

			w := httptest.NewRecorder()
			h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/moderation/stats"+tt.query, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && !p.gotSince.Equal(fixedTime.AddDate(0, 0, -tt.wantDays)) {
				t.Errorf("since = %v, want %d days before", p.gotSince, tt.wantDays)
			}
		})
	}
}

func TestStatsHandler_GetStats_ProviderError(t *testing.T) {
	h := newTestStatsHandler(&mockStatsProvider{err: errors.New("db down")})

	w := httptest.NewRecorder()
	h.GetStats(w, httptest.NewRequest(http.MethodGet, "/api/moderation/stats", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
