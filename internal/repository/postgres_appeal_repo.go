package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/tradeguard/internal/model"
)

// PostgresAppealRepo はPostgreSQLを使用した異議申し立てリポジトリ。
type PostgresAppealRepo struct {
	db *sql.DB
}

// NewPostgresAppealRepo はPostgresAppealRepoを生成する。
func NewPostgresAppealRepo(db *sql.DB) *PostgresAppealRepo {
	return &PostgresAppealRepo{db: db}
}

const appealColumns = `id, user_id, moderation_action_id, reason, status, reverse_action,
	submitted_at, reviewed_at, reviewed_by`

func scanAppeal(row interface{ Scan(...any) error }) (*model.Appeal, error) {
	a := &model.Appeal{}
	var reviewedAt sql.NullTime
	var reviewedBy sql.NullString
	if err := row.Scan(&a.ID, &a.UserID, &a.ModerationActionID, &a.Reason, &a.Status,
		&a.ReverseAction, &a.SubmittedAt, &reviewedAt, &reviewedBy); err != nil {
		return nil, err
	}
	a.ReviewedAt = timePtr(reviewedAt)
	a.ReviewedBy = stringPtr(reviewedBy)
	return a, nil
}

// Create は異議申し立てを作成する。
// moderation_action_idの一意制約違反はErrDuplicateとして返す。
func (r *PostgresAppealRepo) Create(ctx context.Context, appeal *model.Appeal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO appeals (id, user_id, moderation_action_id, reason, status, reverse_action, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6)`,
		appeal.ID, appeal.UserID, appeal.ModerationActionID, appeal.Reason, appeal.Status, appeal.SubmittedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("異議申し立ての作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの異議申し立てを取得する。見つからない場合はnilを返す。
func (r *PostgresAppealRepo) FindByID(ctx context.Context, id string) (*model.Appeal, error) {
	if !isUUID(id) {
		return nil, nil
	}
	a, err := scanAppeal(r.db.QueryRowContext(ctx,
		`SELECT `+appealColumns+` FROM appeals WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("異議申し立ての取得に失敗しました: %w", err)
	}
	return a, nil
}

// Resolve は審査待ちの異議申し立てを確定させる。
// ステータス更新と制裁状態の巻き戻しは同一トランザクションで行う。
func (r *PostgresAppealRepo) Resolve(ctx context.Context, appeal *model.Appeal, subjectUserID string, change *model.SanctionChange) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE appeals SET status = $2, reverse_action = $3, reviewed_at = $4, reviewed_by = $5
		 WHERE id = $1 AND status = 'pending'`,
		appeal.ID, appeal.Status, appeal.ReverseAction, nullTime(appeal.ReviewedAt), nullStringPtr(appeal.ReviewedBy),
	)
	if err != nil {
		return fmt.Errorf("異議申し立ての更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}

	if change != nil && !change.IsNoop() {
		if _, err := applySanctionChange(ctx, tx, subjectUserID, *change); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("制裁状態の巻き戻しに失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListPending は審査待ちの異議申し立てを古い順に返す。
func (r *PostgresAppealRepo) ListPending(ctx context.Context, limit int) ([]*model.Appeal, error) {
	return r.list(ctx,
		`SELECT `+appealColumns+` FROM appeals WHERE status = 'pending' ORDER BY submitted_at ASC LIMIT $1`,
		limit,
	)
}

// ListByUser は指定ユーザーの異議申し立てを新しい順に返す。
func (r *PostgresAppealRepo) ListByUser(ctx context.Context, userID string) ([]*model.Appeal, error) {
	return r.list(ctx,
		`SELECT `+appealColumns+` FROM appeals WHERE user_id = $1 ORDER BY submitted_at DESC`,
		userID,
	)
}

func (r *PostgresAppealRepo) list(ctx context.Context, query string, arg any) ([]*model.Appeal, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("異議申し立ての取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var appeals []*model.Appeal
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, fmt.Errorf("異議申し立ての読み取りに失敗しました: %w", err)
		}
		appeals = append(appeals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("異議申し立ての走査に失敗しました: %w", err)
	}
	return appeals, nil
}

// compile-time interface check
var _ AppealRepository = (*PostgresAppealRepo)(nil)
