package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tradeguard/internal/appeal"
	"github.com/hitoshi/tradeguard/internal/flag"
	"github.com/hitoshi/tradeguard/internal/middleware"
	"github.com/hitoshi/tradeguard/internal/model"
	"github.com/hitoshi/tradeguard/internal/moderation"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- テストヘルパー ---

// withPrincipal はテスト用にリクエストコンテキストにPrincipalを注入するヘルパー。
func withPrincipal(r *http.Request, userID string, moderator bool) *http.Request {
	ctx := middleware.ContextWithPrincipal(r.Context(), &model.Principal{UserID: userID, IsModerator: moderator})
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをJSONとしてデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
}

// --- モック定義 ---

type mockFlagService struct {
	submitFn      func(ctx context.Context, in flag.SubmitInput) (*model.Flag, error)
	reviewFn      func(ctx context.Context, in flag.ReviewInput) (*flag.ReviewResult, error)
	listPendingFn func(ctx context.Context, limit int) ([]*model.FlagWithContext, error)
}

func (m *mockFlagService) Submit(ctx context.Context, in flag.SubmitInput) (*model.Flag, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, in)
	}
	return &model.Flag{ID: "flag-1", ReporterID: in.ReporterID, TargetType: in.TargetType, TargetID: in.TargetID,
		Reason: in.Reason, Status: model.FlagStatusPending, Source: model.FlagSourceManual, CreatedAt: fixedTime}, nil
}

func (m *mockFlagService) Review(ctx context.Context, in flag.ReviewInput) (*flag.ReviewResult, error) {
	if m.reviewFn != nil {
		return m.reviewFn(ctx, in)
	}
	return &flag.ReviewResult{Flag: &model.Flag{ID: in.FlagID, Status: model.FlagStatusDismissed}}, nil
}

func (m *mockFlagService) ListPending(ctx context.Context, limit int) ([]*model.FlagWithContext, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit)
	}
	return []*model.FlagWithContext{}, nil
}

type mockModerationService struct {
	recordFn  func(ctx context.Context, in moderation.RecordInput) (*moderation.RecordResult, error)
	unbanFn   func(ctx context.Context, moderatorID, userID string) (*moderation.UnbanResult, error)
	statusFn  func(ctx context.Context, userID string) (*moderation.Status, error)
	historyFn func(ctx context.Context, userID string, limit int) ([]*model.ModerationAction, error)
}

func (m *mockModerationService) Record(ctx context.Context, in moderation.RecordInput) (*moderation.RecordResult, error) {
	if m.recordFn != nil {
		return m.recordFn(ctx, in)
	}
	return &moderation.RecordResult{Action: &model.ModerationAction{ID: "action-1", ActionType: in.Spec.ActionType}}, nil
}

func (m *mockModerationService) Unban(ctx context.Context, moderatorID, userID string) (*moderation.UnbanResult, error) {
	if m.unbanFn != nil {
		return m.unbanFn(ctx, moderatorID, userID)
	}
	return &moderation.UnbanResult{UserID: userID, UnbannedAt: fixedTime}, nil
}

func (m *mockModerationService) Status(ctx context.Context, userID string) (*moderation.Status, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID)
	}
	return &moderation.Status{UserID: userID}, nil
}

func (m *mockModerationService) History(ctx context.Context, userID string, limit int) ([]*model.ModerationAction, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, userID, limit)
	}
	return []*model.ModerationAction{}, nil
}

type mockAppealService struct {
	submitFn      func(ctx context.Context, userID, actionID, reason string) (*model.Appeal, error)
	reviewFn      func(ctx context.Context, in appeal.ReviewInput) (*model.Appeal, error)
	listPendingFn func(ctx context.Context, limit int) ([]*model.Appeal, error)
	listMineFn    func(ctx context.Context, userID string) ([]*model.Appeal, error)
}

func (m *mockAppealService) Submit(ctx context.Context, userID, actionID, reason string) (*model.Appeal, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, userID, actionID, reason)
	}
	return &model.Appeal{ID: "appeal-1", UserID: userID, ModerationActionID: actionID, Reason: reason,
		Status: model.AppealStatusPending, SubmittedAt: fixedTime}, nil
}

func (m *mockAppealService) Review(ctx context.Context, in appeal.ReviewInput) (*model.Appeal, error) {
	if m.reviewFn != nil {
		return m.reviewFn(ctx, in)
	}
	return &model.Appeal{ID: in.AppealID, Status: in.Decision, ReverseAction: in.Reverse}, nil
}

func (m *mockAppealService) ListPending(ctx context.Context, limit int) ([]*model.Appeal, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit)
	}
	return []*model.Appeal{}, nil
}

func (m *mockAppealService) ListMine(ctx context.Context, userID string) ([]*model.Appeal, error) {
	if m.listMineFn != nil {
		return m.listMineFn(ctx, userID)
	}
	return []*model.Appeal{}, nil
}

type mockBlockedWordService struct {
	listFn   func(ctx context.Context) ([]*model.BlockedWord, error)
	addFn    func(ctx context.Context, word string, category model.BlockedWordCategory, severity model.WordSeverity, reason, actorID string) (*model.BlockedWord, error)
	removeFn func(ctx context.Context, word string) error
}

func (m *mockBlockedWordService) List(ctx context.Context) ([]*model.BlockedWord, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []*model.BlockedWord{}, nil
}

func (m *mockBlockedWordService) Add(ctx context.Context, word string, category model.BlockedWordCategory, severity model.WordSeverity, reason, actorID string) (*model.BlockedWord, error) {
	if m.addFn != nil {
		return m.addFn(ctx, word, category, severity, reason, actorID)
	}
	return &model.BlockedWord{ID: "word-1", Word: word, Category: category, Severity: severity, Active: true, CreatedBy: actorID}, nil
}

func (m *mockBlockedWordService) Remove(ctx context.Context, word string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, word)
	}
	return nil
}

type mockContentFilter struct {
	filterFn func(ctx context.Context, text string) *model.FilterResult
	calls    int
}

func (m *mockContentFilter) FilterContent(ctx context.Context, text string) *model.FilterResult {
	m.calls++
	if m.filterFn != nil {
		return m.filterFn(ctx, text)
	}
	return &model.FilterResult{Passed: true, Filtered: text}
}

type screenCall struct {
	authorID   string
	targetType model.TargetType
	targetID   string
	text       string
}

type mockScreener struct {
	calls  []screenCall
	result *model.FilterResult
}

func (m *mockScreener) Screen(ctx context.Context, authorID string, targetType model.TargetType, targetID, text string) *model.FilterResult {
	m.calls = append(m.calls, screenCall{authorID, targetType, targetID, text})
	if m.result != nil {
		return m.result
	}
	return &model.FilterResult{Passed: true, Filtered: text}
}

type mockStatsProvider struct {
	stats     *model.ModerationStats
	err       error
	gotSince  time.Time
	gotRecent int
}

func (m *mockStatsProvider) ModerationStats(ctx context.Context, since time.Time, recentLimit int) (*model.ModerationStats, error) {
	m.gotSince = since
	m.gotRecent = recentLimit
	if m.err != nil {
		return nil, m.err
	}
	if m.stats != nil {
		return m.stats, nil
	}
	return &model.ModerationStats{Since: since, ActionsByType: map[model.ActionType]int{}}, nil
}
