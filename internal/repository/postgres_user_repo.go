package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tradeguard/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを制裁状態込みで取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !isUUID(id) {
		return nil, nil
	}
	user := &model.User{}
	var bannedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, is_moderator, warning_count, is_banned, banned_until, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.IsModerator,
		&user.WarningCount, &user.IsBanned, &bannedUntil,
		&user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.BannedUntil = timePtr(bannedUntil)
	return user, nil
}

// EnsureSystemUser は自動通報の報告者として使うシステムユーザーを冪等に作成する。
func (r *PostgresUserRepo) EnsureSystemUser(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, is_moderator)
		 VALUES ($1, $2, 'system', true)
		 ON CONFLICT (id) DO NOTHING`,
		id, "system+"+id+"@tradeguard.invalid",
	)
	if err != nil {
		return fmt.Errorf("failed to ensure system user: %w", err)
	}
	return nil
}

// ClearBan はBAN状態を解除し、解除前の制裁状態を返す。
// ユーザーが存在しない場合はnilを返す。
func (r *PostgresUserRepo) ClearBan(ctx context.Context, userID string) (*model.SanctionState, error) {
	if !isUUID(userID) {
		return nil, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev := &model.SanctionState{}
	var bannedUntil sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT warning_count, is_banned, banned_until FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	).Scan(&prev.WarningCount, &prev.IsBanned, &bannedUntil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	prev.BannedUntil = timePtr(bannedUntil)

	if _, err := applySanctionChange(ctx, tx, userID, model.SanctionChange{ClearBan: true}); err != nil {
		return nil, fmt.Errorf("failed to clear ban: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return prev, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
