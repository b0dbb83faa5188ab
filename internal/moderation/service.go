// Package moderation はモデレーション措置の記録と制裁状態の管理を提供する。
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tradeguard/internal/model"
	"github.com/hitoshi/tradeguard/internal/repository"
	"github.com/hitoshi/tradeguard/internal/sanction"
)

const (
	maxReasonLength     = 1000
	defaultHistoryLimit = 50
)

// TargetResolver は措置対象の存在確認と所有者の解決を行う。
type TargetResolver interface {
	// Resolve は対象を解決する。存在しない場合はnilを返す。
	Resolve(ctx context.Context, targetType model.TargetType, targetID string) (*model.Target, error)
}

// Recorder は措置のメトリクス記録先。
type Recorder interface {
	RecordModerationAction(actionType string)
}

// Config はServiceの動作設定。
type Config struct {
	// AllowSelfBan はモデレーターが自分自身をBANすることを許可するかどうか。
	AllowSelfBan bool
}

// RecordInput は措置記録の入力。
type RecordInput struct {
	ModeratorID string
	TargetType  model.TargetType
	TargetID    string
	Spec        model.ActionSpec
	// FlagID が指定された場合は同じトランザクションで通報を認容済みにする。
	FlagID *string
}

// RecordResult は措置記録の結果。
type RecordResult struct {
	Action *model.ModerationAction
	State  model.SanctionState
}

// UnbanResult はBAN解除の結果。
type UnbanResult struct {
	UserID     string
	UnbannedAt time.Time
	// WasBanned は解除時点でBANが有効だったかどうか。期限切れの一時BANはfalse。
	WasBanned bool
}

// Message は解除結果の表示用メッセージを返す。
func (r *UnbanResult) Message() string {
	if r.WasBanned {
		return "ban lifted"
	}
	return "user was not banned"
}

// Status はユーザーの制裁状態の射影。
type Status struct {
	UserID         string
	WarningCount   int
	IsBanned       bool
	BannedUntil    *time.Time
	ActiveBan      bool
	Recommendation sanction.Recommendation
}

// Service はモデレーション措置ログのサービス層。
// 措置の追記と制裁状態の更新は常に1トランザクションで行う。
type Service struct {
	users    repository.UserRepository
	actions  repository.ModerationActionRepository
	resolver TargetResolver
	metrics  Recorder
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	users repository.UserRepository,
	actions repository.ModerationActionRepository,
	resolver TargetResolver,
	metrics Recorder,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		actions:  actions,
		resolver: resolver,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Record はモデレーション措置を記録し、対象ユーザーの制裁状態を更新する。
func (s *Service) Record(ctx context.Context, in RecordInput) (*RecordResult, error) {
	if !in.TargetType.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("invalid target_type: %q", in.TargetType))
	}
	if !in.Spec.ActionType.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("invalid action_type: %q", in.Spec.ActionType))
	}
	reason := strings.TrimSpace(in.Spec.Reason)
	if reason == "" {
		return nil, model.NewValidationError("reason is required")
	}
	if len([]rune(reason)) > maxReasonLength {
		return nil, model.NewValidationError(fmt.Sprintf("reason must be at most %d characters", maxReasonLength))
	}

	target, err := s.resolver.Resolve(ctx, in.TargetType, in.TargetID)
	if err != nil {
		return nil, fmt.Errorf("措置対象の解決に失敗しました: %w", err)
	}
	if target == nil {
		if in.TargetType == model.TargetTypeUser {
			return nil, model.NewUserNotFoundError(in.TargetID)
		}
		return nil, model.NewTargetNotFoundError(in.TargetType, in.TargetID)
	}

	subjectID := target.OwnerID
	if in.Spec.ActionType.IsBan() && subjectID == in.ModeratorID && !s.cfg.AllowSelfBan {
		return nil, model.NewSelfBanForbiddenError()
	}

	subject, err := s.users.FindByID(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("対象ユーザーの取得に失敗しました: %w", err)
	}
	if subject == nil {
		return nil, model.NewUserNotFoundError(subjectID)
	}

	now := s.now()
	decision, err := sanction.Decide(subject.WarningCount, in.Spec.ActionType, in.Spec.DurationDays, now)
	if err != nil {
		return nil, err
	}

	action := &model.ModerationAction{
		ID:            uuid.New().String(),
		ModeratorID:   in.ModeratorID,
		TargetType:    in.TargetType,
		TargetID:      in.TargetID,
		SubjectUserID: subjectID,
		ActionType:    decision.ActionType,
		Reason:        reason,
		DurationHours: decision.DurationHours,
		FlagID:        in.FlagID,
		CreatedAt:     now,
	}

	var uphold *model.FlagUphold
	if in.FlagID != nil {
		uphold = &model.FlagUphold{FlagID: *in.FlagID, ReviewerID: in.ModeratorID, ReviewedAt: now}
	}

	state, err := s.actions.Record(ctx, action, decision.Change, uphold)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewUserNotFoundError(subjectID)
	}
	if errors.Is(err, repository.ErrNotPending) {
		return nil, model.NewFlagAlreadyReviewedError(*in.FlagID)
	}
	if err != nil {
		return nil, fmt.Errorf("措置の記録に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordModerationAction(string(action.ActionType))
	}
	s.logger.Info("moderation action recorded",
		slog.String("action_id", action.ID),
		slog.String("moderator_id", action.ModeratorID),
		slog.String("subject_user_id", subjectID),
		slog.String("action_type", string(action.ActionType)),
		slog.Int("warning_count", state.WarningCount),
		slog.String("recommended", string(decision.Recommended.ActionType)),
	)

	return &RecordResult{Action: action, State: *state}, nil
}

// Unban はユーザーのBANを解除する。冪等であり、BANされていない場合も同じ状態遷移になる。
func (s *Service) Unban(ctx context.Context, moderatorID, userID string) (*UnbanResult, error) {
	now := s.now()
	prev, err := s.users.ClearBan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("BANの解除に失敗しました: %w", err)
	}
	if prev == nil {
		return nil, model.NewUserNotFoundError(userID)
	}

	result := &UnbanResult{UserID: userID, UnbannedAt: now, WasBanned: prev.ActiveBan(now)}
	s.logger.Info("user unbanned",
		slog.String("moderator_id", moderatorID),
		slog.String("user_id", userID),
		slog.Bool("was_banned", result.WasBanned),
	)
	return result, nil
}

// Status はユーザーの制裁状態と次の措置の提案を返す。
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	return &Status{
		UserID:         user.ID,
		WarningCount:   user.WarningCount,
		IsBanned:       user.IsBanned,
		BannedUntil:    user.BannedUntil,
		ActiveBan:      user.ActiveBan(s.now()),
		Recommendation: sanction.Recommend(user.WarningCount),
	}, nil
}

// History はユーザーを対象とする措置を新しい順に返す。
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*model.ModerationAction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError(userID)
	}
	actions, err := s.actions.ListBySubject(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("措置履歴の取得に失敗しました: %w", err)
	}
	if actions == nil {
		actions = []*model.ModerationAction{}
	}
	return actions, nil
}

// IsBanned は指定時点でユーザーのBANが有効かどうかを返す。存在しないユーザーはfalse。
func (s *Service) IsBanned(ctx context.Context, userID string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return false, nil
	}
	return user.ActiveBan(s.now()), nil
}
