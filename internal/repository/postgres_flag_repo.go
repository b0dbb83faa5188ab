package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tradeguard/internal/model"
)

// PostgresFlagRepo はPostgreSQLを使用した通報リポジトリ。
type PostgresFlagRepo struct {
	db *sql.DB
}

// NewPostgresFlagRepo はPostgresFlagRepoを生成する。
func NewPostgresFlagRepo(db *sql.DB) *PostgresFlagRepo {
	return &PostgresFlagRepo{db: db}
}

const flagColumns = `f.id, f.reporter_id, f.target_type, f.target_id, f.reason, f.description,
	f.status, f.source, f.created_at, f.reviewed_at, f.reviewed_by, f.moderation_action_id`

// flagScanTargets はflagColumnsの順にScan先を返す。
func flagScanTargets(f *model.Flag, reviewedAt *sql.NullTime, reviewedBy, actionID *sql.NullString) []any {
	return []any{
		&f.ID, &f.ReporterID, &f.TargetType, &f.TargetID, &f.Reason, &f.Description,
		&f.Status, &f.Source, &f.CreatedAt, reviewedAt, reviewedBy, actionID,
	}
}

// Create は通報を作成する。
// 部分ユニークインデックス違反はErrDuplicateとして返す。
func (r *PostgresFlagRepo) Create(ctx context.Context, flag *model.Flag) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO flags (id, reporter_id, target_type, target_id, reason, description, status, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		flag.ID, flag.ReporterID, flag.TargetType, flag.TargetID, flag.Reason,
		flag.Description, flag.Status, flag.Source, flag.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("通報の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの通報を取得する。見つからない場合はnilを返す。
func (r *PostgresFlagRepo) FindByID(ctx context.Context, id string) (*model.Flag, error) {
	if !isUUID(id) {
		return nil, nil
	}
	f := &model.Flag{}
	var reviewedAt sql.NullTime
	var reviewedBy, actionID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT `+flagColumns+` FROM flags f WHERE f.id = $1`,
		id,
	).Scan(flagScanTargets(f, &reviewedAt, &reviewedBy, &actionID)...)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("通報の取得に失敗しました: %w", err)
	}

	f.ReviewedAt = timePtr(reviewedAt)
	f.ReviewedBy = stringPtr(reviewedBy)
	f.ModerationActionID = stringPtr(actionID)
	return f, nil
}

// Dismiss は審査待ちの通報を却下済みにする。
func (r *PostgresFlagRepo) Dismiss(ctx context.Context, flagID, reviewerID string, reviewedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE flags SET status = 'dismissed', reviewed_at = $2, reviewed_by = $3
		 WHERE id = $1 AND status = 'pending'`,
		flagID, reviewedAt, reviewerID,
	)
	if err != nil {
		return fmt.Errorf("通報の却下に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// ListPending は審査待ち通報を通報者名付きで古い順に返す。
// 対象スニペットは呼び出し側で付加する。
func (r *PostgresFlagRepo) ListPending(ctx context.Context, limit int) ([]*model.FlagWithContext, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+flagColumns+`, u.name
		 FROM flags f
		 INNER JOIN users u ON u.id = f.reporter_id
		 WHERE f.status = 'pending'
		 ORDER BY f.created_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("審査待ち通報の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var flags []*model.FlagWithContext
	for rows.Next() {
		fc := &model.FlagWithContext{}
		var reviewedAt sql.NullTime
		var reviewedBy, actionID sql.NullString
		targets := append(flagScanTargets(&fc.Flag, &reviewedAt, &reviewedBy, &actionID), &fc.ReporterName)
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("審査待ち通報の読み取りに失敗しました: %w", err)
		}
		fc.ReviewedAt = timePtr(reviewedAt)
		fc.ReviewedBy = stringPtr(reviewedBy)
		fc.ModerationActionID = stringPtr(actionID)
		flags = append(flags, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("審査待ち通報の走査に失敗しました: %w", err)
	}
	return flags, nil
}

// compile-time interface check
var _ FlagRepository = (*PostgresFlagRepo)(nil)
