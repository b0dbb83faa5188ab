// Package flag はコミュニティメンバーによる通報の受付と審査を提供する。
package flag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tradeguard/internal/model"
	"github.com/hitoshi/tradeguard/internal/moderation"
	"github.com/hitoshi/tradeguard/internal/repository"
)

const (
	// DefaultDescriptionMaxLength は通報の説明文の既定の最大文字数。
	DefaultDescriptionMaxLength = 1000

	defaultListLimit = 50
	maxListLimit     = 200
)

// TargetResolver は通報対象の存在確認とスニペットの取得を行う。
type TargetResolver interface {
	Resolve(ctx context.Context, targetType model.TargetType, targetID string) (*model.Target, error)
}

// ActionRecorder は通報認容時の措置記録を行う。
type ActionRecorder interface {
	Record(ctx context.Context, in moderation.RecordInput) (*moderation.RecordResult, error)
}

// ContentFilter は自動通報のためのテキスト判定を行う。
type ContentFilter interface {
	FilterContent(ctx context.Context, text string) *model.FilterResult
}

// Sanitizer はユーザー入力からHTMLを除去する。
type Sanitizer interface {
	StripTags(raw string) string
}

// Recorder は通報のメトリクス記録先。
type Recorder interface {
	RecordFlagSubmitted(source string)
	RecordFlagReviewed(decision string)
}

// Config はServiceの動作設定。
type Config struct {
	// SystemUserID は自動通報の報告者として記録するユーザー。
	SystemUserID         string
	DescriptionMaxLength int
}

// ReviewResult は通報審査の結果。
type ReviewResult struct {
	Flag *model.Flag
	// Action と State は認容時のみ設定される。
	Action *model.ModerationAction
	State  *model.SanctionState
}

// Service は通報台帳のサービス層。
// 同一対象への審査待ち通報の重複は部分ユニークインデックスで防ぐ。
type Service struct {
	flags     repository.FlagRepository
	resolver  TargetResolver
	actions   ActionRecorder
	filter    ContentFilter
	sanitizer Sanitizer
	metrics   Recorder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsはnilでもよい。
func NewService(
	flags repository.FlagRepository,
	resolver TargetResolver,
	actions ActionRecorder,
	filter ContentFilter,
	sanitizer Sanitizer,
	metrics Recorder,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.DescriptionMaxLength <= 0 {
		cfg.DescriptionMaxLength = DefaultDescriptionMaxLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		flags:     flags,
		resolver:  resolver,
		actions:   actions,
		filter:    filter,
		sanitizer: sanitizer,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SubmitInput は通報の入力。
type SubmitInput struct {
	ReporterID  string
	TargetType  model.TargetType
	TargetID    string
	Reason      model.FlagReason
	Description string
}

// Submit は手動通報を受け付ける。
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*model.Flag, error) {
	if !in.TargetType.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("invalid target_type: %q", in.TargetType))
	}
	if strings.TrimSpace(in.TargetID) == "" {
		return nil, model.NewValidationError("target_id is required")
	}
	if !in.Reason.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("invalid reason: %q", in.Reason))
	}
	description := s.sanitizer.StripTags(in.Description)
	if description == "" {
		return nil, model.NewValidationError("description is required")
	}
	if n := len([]rune(description)); n > s.cfg.DescriptionMaxLength {
		return nil, model.NewValidationError(fmt.Sprintf("description must be at most %d characters: %d", s.cfg.DescriptionMaxLength, n))
	}

	target, err := s.resolver.Resolve(ctx, in.TargetType, in.TargetID)
	if err != nil {
		return nil, fmt.Errorf("通報対象の解決に失敗しました: %w", err)
	}
	if target == nil {
		return nil, model.NewTargetNotFoundError(in.TargetType, in.TargetID)
	}

	flag := &model.Flag{
		ID:          uuid.New().String(),
		ReporterID:  in.ReporterID,
		TargetType:  in.TargetType,
		TargetID:    in.TargetID,
		Reason:      in.Reason,
		Description: description,
		Status:      model.FlagStatusPending,
		Source:      model.FlagSourceManual,
		CreatedAt:   s.now(),
	}
	if err := s.flags.Create(ctx, flag); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateFlagError()
		}
		return nil, fmt.Errorf("通報の作成に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordFlagSubmitted(string(model.FlagSourceManual))
	}
	s.logger.Info("flag submitted",
		slog.String("flag_id", flag.ID),
		slog.String("reporter_id", flag.ReporterID),
		slog.String("target_type", string(flag.TargetType)),
		slog.String("target_id", flag.TargetID),
		slog.String("reason", string(flag.Reason)),
	)
	return flag, nil
}

// ReviewInput は通報審査の入力。
type ReviewInput struct {
	FlagID      string
	ModeratorID string
	Decision    model.FlagDecision
	// Action は認容時に必須。
	Action *model.ActionSpec
}

// Review は審査待ちの通報を認容または却下する。
// 認容時は措置の記録と通報の状態更新を1トランザクションで行い、失敗時は通報は審査待ちのまま残る。
func (s *Service) Review(ctx context.Context, in ReviewInput) (*ReviewResult, error) {
	if in.Decision != model.FlagDecisionUphold && in.Decision != model.FlagDecisionDismiss {
		return nil, model.NewValidationError(fmt.Sprintf("invalid decision: %q", in.Decision))
	}
	if in.Decision == model.FlagDecisionUphold && in.Action == nil {
		return nil, model.NewValidationError("action is required when upholding a flag")
	}

	flag, err := s.flags.FindByID(ctx, in.FlagID)
	if err != nil {
		return nil, fmt.Errorf("通報の取得に失敗しました: %w", err)
	}
	if flag == nil {
		return nil, model.NewFlagNotFoundError(in.FlagID)
	}
	if flag.Status != model.FlagStatusPending {
		return nil, model.NewFlagAlreadyReviewedError(in.FlagID)
	}

	result := &ReviewResult{}
	switch in.Decision {
	case model.FlagDecisionDismiss:
		err := s.flags.Dismiss(ctx, flag.ID, in.ModeratorID, s.now())
		if errors.Is(err, repository.ErrNotPending) {
			return nil, model.NewFlagAlreadyReviewedError(in.FlagID)
		}
		if err != nil {
			return nil, fmt.Errorf("通報の却下に失敗しました: %w", err)
		}

	case model.FlagDecisionUphold:
		flagID := flag.ID
		recorded, err := s.actions.Record(ctx, moderation.RecordInput{
			ModeratorID: in.ModeratorID,
			TargetType:  flag.TargetType,
			TargetID:    flag.TargetID,
			Spec:        *in.Action,
			FlagID:      &flagID,
		})
		if err != nil {
			return nil, err
		}
		result.Action = recorded.Action
		state := recorded.State
		result.State = &state
	}

	updated, err := s.flags.FindByID(ctx, flag.ID)
	if err != nil {
		return nil, fmt.Errorf("通報の再取得に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewFlagNotFoundError(flag.ID)
	}
	result.Flag = updated

	if s.metrics != nil {
		s.metrics.RecordFlagReviewed(string(in.Decision))
	}
	s.logger.Info("flag reviewed",
		slog.String("flag_id", flag.ID),
		slog.String("moderator_id", in.ModeratorID),
		slog.String("decision", string(in.Decision)),
	)
	return result, nil
}

// ListPending は審査待ちの通報を対象スニペット付きで古い順に返す。
// スニペットの取得に失敗した通報は空のスニペットで返す。
func (s *Service) ListPending(ctx context.Context, limit int) ([]*model.FlagWithContext, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	flags, err := s.flags.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("審査待ち通報の取得に失敗しました: %w", err)
	}
	for _, f := range flags {
		target, err := s.resolver.Resolve(ctx, f.TargetType, f.TargetID)
		if err != nil {
			s.logger.Warn("通報対象のスニペット取得に失敗しました",
				slog.String("flag_id", f.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if target != nil {
			f.TargetSnippet = target.Snippet
		}
	}
	if flags == nil {
		flags = []*model.FlagWithContext{}
	}
	return flags, nil
}

// Screen は投稿テキストを自動判定し、拒否相当の場合はシステムユーザー名義で自動通報を作成する。
// 判定や通報作成に失敗しても投稿は妨げず、判定結果をそのまま返す。
func (s *Service) Screen(ctx context.Context, authorID string, targetType model.TargetType, targetID, text string) *model.FilterResult {
	result := s.filter.FilterContent(ctx, text)
	if result.Severity != model.SeverityBlock {
		return result
	}
	if !targetType.Valid() || targetID == "" {
		return result
	}

	description := "automated: " + strings.Join(result.Categories, ", ")
	if runes := []rune(description); len(runes) > s.cfg.DescriptionMaxLength {
		description = string(runes[:s.cfg.DescriptionMaxLength])
	}
	flag := &model.Flag{
		ID:          uuid.New().String(),
		ReporterID:  s.cfg.SystemUserID,
		TargetType:  targetType,
		TargetID:    targetID,
		Reason:      reasonForCategories(result.Categories),
		Description: description,
		Status:      model.FlagStatusPending,
		Source:      model.FlagSourceAutomated,
		CreatedAt:   s.now(),
	}
	err := s.flags.Create(ctx, flag)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		s.logger.Debug("automated flag already pending",
			slog.String("target_type", string(targetType)),
			slog.String("target_id", targetID),
		)
	case err != nil:
		s.logger.Error("自動通報の作成に失敗しました",
			slog.String("target_type", string(targetType)),
			slog.String("target_id", targetID),
			slog.String("error", err.Error()),
		)
	default:
		if s.metrics != nil {
			s.metrics.RecordFlagSubmitted(string(model.FlagSourceAutomated))
		}
		s.logger.Info("automated flag created",
			slog.String("flag_id", flag.ID),
			slog.String("author_id", authorID),
			slog.String("target_type", string(targetType)),
			slog.String("target_id", targetID),
		)
	}
	return result
}

// reasonForCategories は判定カテゴリから通報理由を選ぶ。
func reasonForCategories(categories []string) model.FlagReason {
	has := make(map[string]bool, len(categories))
	for _, c := range categories {
		has[c] = true
	}
	switch {
	case has[string(model.BlockedWordCategoryFraud)]:
		return model.FlagReasonFraud
	case has["toxicity"], has[string(model.BlockedWordCategoryHate)]:
		return model.FlagReasonHarassment
	case has[string(model.BlockedWordCategorySpam)]:
		return model.FlagReasonSpam
	default:
		return model.FlagReasonInappropriate
	}
}
