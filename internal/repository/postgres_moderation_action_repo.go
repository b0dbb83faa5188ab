package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/tradeguard/internal/model"
)

// PostgresModerationActionRepo はPostgreSQLを使用したモデレーション措置リポジトリ。
// 措置は追記専用で、更新・削除は行わない。
type PostgresModerationActionRepo struct {
	db *sql.DB
}

// NewPostgresModerationActionRepo はPostgresModerationActionRepoを生成する。
func NewPostgresModerationActionRepo(db *sql.DB) *PostgresModerationActionRepo {
	return &PostgresModerationActionRepo{db: db}
}

const actionColumns = `id, moderator_id, target_type, target_id, subject_user_id, action_type,
	reason, duration_hours, flag_id, created_at`

func scanAction(row interface{ Scan(...any) error }) (*model.ModerationAction, error) {
	a := &model.ModerationAction{}
	var duration sql.NullInt64
	var flagID sql.NullString
	if err := row.Scan(&a.ID, &a.ModeratorID, &a.TargetType, &a.TargetID, &a.SubjectUserID,
		&a.ActionType, &a.Reason, &duration, &flagID, &a.CreatedAt); err != nil {
		return nil, err
	}
	if duration.Valid {
		h := int(duration.Int64)
		a.DurationHours = &h
	}
	a.FlagID = stringPtr(flagID)
	return a, nil
}

// Record は措置の追記と制裁状態の更新を1トランザクションで行う。
// upholdが指定された場合は通報をWHERE status='pending'の条件付き更新で認容済みにし、
// 0行更新の場合はロールバックしてErrNotPendingを返す。
func (r *PostgresModerationActionRepo) Record(ctx context.Context, action *model.ModerationAction, change model.SanctionChange, uphold *model.FlagUphold) (*model.SanctionState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var duration sql.NullInt64
	if action.DurationHours != nil {
		duration = sql.NullInt64{Int64: int64(*action.DurationHours), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO moderation_actions (id, moderator_id, target_type, target_id, subject_user_id,
		                                 action_type, reason, duration_hours, flag_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		action.ID, action.ModeratorID, action.TargetType, action.TargetID, action.SubjectUserID,
		action.ActionType, action.Reason, duration, nullStringPtr(action.FlagID), action.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("措置の記録に失敗しました: %w", err)
	}

	state, err := applySanctionChange(ctx, tx, action.SubjectUserID, change)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("制裁状態の更新に失敗しました: %w", err)
	}

	if uphold != nil {
		result, err := tx.ExecContext(ctx,
			`UPDATE flags SET status = 'upheld', reviewed_at = $2, reviewed_by = $3, moderation_action_id = $4
			 WHERE id = $1 AND status = 'pending'`,
			uphold.FlagID, uphold.ReviewedAt, uphold.ReviewerID, action.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("通報の認容に失敗しました: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return nil, ErrNotPending
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return state, nil
}

// FindByID は指定IDの措置を取得する。見つからない場合はnilを返す。
func (r *PostgresModerationActionRepo) FindByID(ctx context.Context, id string) (*model.ModerationAction, error) {
	if !isUUID(id) {
		return nil, nil
	}
	a, err := scanAction(r.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM moderation_actions WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("措置の取得に失敗しました: %w", err)
	}
	return a, nil
}

// ListBySubject は指定ユーザーを対象とする措置を新しい順に返す。
func (r *PostgresModerationActionRepo) ListBySubject(ctx context.Context, userID string, limit int) ([]*model.ModerationAction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+actionColumns+`
		 FROM moderation_actions
		 WHERE subject_user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("措置履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var actions []*model.ModerationAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("措置履歴の読み取りに失敗しました: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("措置履歴の走査に失敗しました: %w", err)
	}
	return actions, nil
}

// compile-time interface check
var _ ModerationActionRepository = (*PostgresModerationActionRepo)(nil)
