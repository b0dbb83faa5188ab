package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tradeguard/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// セッションの発行は外部の認証基盤が行い、本リポジトリは参照と失効済みの削除のみを扱う。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// FindPrincipal は有効なセッションに紐づくユーザーのPrincipalを返す。
func (r *PostgresSessionRepo) FindPrincipal(ctx context.Context, sessionID string) (*model.Principal, error) {
	p := &model.Principal{}
	err := r.db.QueryRowContext(ctx,
		`SELECT u.id, u.is_moderator
		 FROM sessions s
		 INNER JOIN users u ON u.id = s.user_id
		 WHERE s.id = $1 AND s.expires_at > now()`,
		sessionID,
	).Scan(&p.UserID, &p.IsModerator)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session principal: %w", err)
	}

	return p, nil
}

// DeleteExpiredBefore は指定時刻より前に失効したセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
