// Package appeal はモデレーション措置への異議申し立ての受付と審査を提供する。
package appeal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tradeguard/internal/model"
	"github.com/hitoshi/tradeguard/internal/repository"
	"github.com/hitoshi/tradeguard/internal/sanction"
)

const (
	// DefaultReasonMaxLength は申し立て理由の既定の最大文字数。
	DefaultReasonMaxLength = 2000

	defaultListLimit = 50
	maxListLimit     = 200
)

// Sanitizer はユーザー入力からHTMLを除去する。
type Sanitizer interface {
	StripTags(raw string) string
}

// Recorder は異議申し立てのメトリクス記録先。
type Recorder interface {
	RecordAppeal(event string)
}

// Config はServiceの動作設定。
type Config struct {
	ReasonMaxLength int
}

// Service は異議申し立て処理のサービス層。
// 1つの措置につき申し立ては1件のみで、審査済みの申し立ては変更できない。
type Service struct {
	appeals   repository.AppealRepository
	actions   repository.ModerationActionRepository
	sanitizer Sanitizer
	metrics   Recorder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	appeals repository.AppealRepository,
	actions repository.ModerationActionRepository,
	sanitizer Sanitizer,
	metrics Recorder,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.ReasonMaxLength <= 0 {
		cfg.ReasonMaxLength = DefaultReasonMaxLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		appeals:   appeals,
		actions:   actions,
		sanitizer: sanitizer,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit はユーザー自身が対象となった措置への異議申し立てを受け付ける。
// 他人への措置は存在しないものとして扱う。
func (s *Service) Submit(ctx context.Context, userID, actionID, reason string) (*model.Appeal, error) {
	reason = s.sanitizer.StripTags(reason)
	if reason == "" {
		return nil, model.NewValidationError("reason is required")
	}
	if n := len([]rune(reason)); n > s.cfg.ReasonMaxLength {
		return nil, model.NewValidationError(fmt.Sprintf("reason must be at most %d characters: %d", s.cfg.ReasonMaxLength, n))
	}

	action, err := s.actions.FindByID(ctx, actionID)
	if err != nil {
		return nil, fmt.Errorf("措置の取得に失敗しました: %w", err)
	}
	if action == nil || action.SubjectUserID != userID {
		return nil, model.NewActionNotFoundError(actionID)
	}

	appeal := &model.Appeal{
		ID:                 uuid.New().String(),
		UserID:             userID,
		ModerationActionID: action.ID,
		Reason:             reason,
		Status:             model.AppealStatusPending,
		SubmittedAt:        s.now(),
	}
	if err := s.appeals.Create(ctx, appeal); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateAppealError()
		}
		return nil, fmt.Errorf("異議申し立ての作成に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordAppeal("submitted")
	}
	s.logger.Info("appeal submitted",
		slog.String("appeal_id", appeal.ID),
		slog.String("user_id", userID),
		slog.String("action_id", action.ID),
	)
	return appeal, nil
}

// ReviewInput は異議申し立て審査の入力。
type ReviewInput struct {
	AppealID    string
	ModeratorID string
	Decision    model.AppealStatus
	// Reverse は承認時に措置の効果を取り消すかどうか。却下時は無視する。
	Reverse bool
}

// Review は審査待ちの異議申し立てを承認または却下する。
// 承認かつ取り消し指定の場合は、ステータス更新と制裁状態の巻き戻しを1トランザクションで行う。
func (s *Service) Review(ctx context.Context, in ReviewInput) (*model.Appeal, error) {
	if in.Decision != model.AppealStatusApproved && in.Decision != model.AppealStatusDenied {
		return nil, model.NewValidationError(fmt.Sprintf("invalid decision: %q", in.Decision))
	}

	appeal, err := s.appeals.FindByID(ctx, in.AppealID)
	if err != nil {
		return nil, fmt.Errorf("異議申し立ての取得に失敗しました: %w", err)
	}
	if appeal == nil {
		return nil, model.NewAppealNotFoundError(in.AppealID)
	}
	if appeal.Status != model.AppealStatusPending {
		return nil, model.NewAppealAlreadyReviewedError(in.AppealID)
	}

	action, err := s.actions.FindByID(ctx, appeal.ModerationActionID)
	if err != nil {
		return nil, fmt.Errorf("措置の取得に失敗しました: %w", err)
	}
	if action == nil {
		return nil, model.NewActionNotFoundError(appeal.ModerationActionID)
	}

	reverse := in.Decision == model.AppealStatusApproved && in.Reverse
	var change *model.SanctionChange
	if reverse {
		c := sanction.Reversal(action.ActionType)
		change = &c
	}

	now := s.now()
	moderatorID := in.ModeratorID
	resolved := *appeal
	resolved.Status = in.Decision
	resolved.ReverseAction = reverse
	resolved.ReviewedAt = &now
	resolved.ReviewedBy = &moderatorID

	err = s.appeals.Resolve(ctx, &resolved, action.SubjectUserID, change)
	if errors.Is(err, repository.ErrNotPending) {
		return nil, model.NewAppealAlreadyReviewedError(in.AppealID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewUserNotFoundError(action.SubjectUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("異議申し立ての審査に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordAppeal(string(in.Decision))
	}
	s.logger.Info("appeal reviewed",
		slog.String("appeal_id", resolved.ID),
		slog.String("moderator_id", moderatorID),
		slog.String("decision", string(in.Decision)),
		slog.Bool("reverse_action", reverse),
		slog.String("action_type", string(action.ActionType)),
	)
	return &resolved, nil
}

// ListPending は審査待ちの異議申し立てを古い順に返す。
func (s *Service) ListPending(ctx context.Context, limit int) ([]*model.Appeal, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	appeals, err := s.appeals.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("審査待ち異議申し立ての取得に失敗しました: %w", err)
	}
	if appeals == nil {
		appeals = []*model.Appeal{}
	}
	return appeals, nil
}

// ListMine はユーザー自身の異議申し立てを新しい順に返す。
func (s *Service) ListMine(ctx context.Context, userID string) ([]*model.Appeal, error) {
	appeals, err := s.appeals.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("異議申し立ての取得に失敗しました: %w", err)
	}
	if appeals == nil {
		appeals = []*model.Appeal{}
	}
	return appeals, nil
}
