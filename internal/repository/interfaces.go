// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/tradeguard/internal/model"
)

var (
	// ErrDuplicate は一意制約違反（SQLSTATE 23505）を表す。
	ErrDuplicate = errors.New("repository: duplicate key")

	// ErrNotPending は条件付き更新の対象行が既に審査済みだったことを表す。
	ErrNotPending = errors.New("repository: row is no longer pending")

	// ErrNotFound はトランザクション内で更新対象の行が存在しなかったことを表す。
	ErrNotFound = errors.New("repository: row not found")
)

// uniqueViolation はPostgreSQLの一意制約違反コード。
const uniqueViolation = "23505"

// isUniqueViolation はerrが一意制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// UserRepository はユーザーと制裁状態の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// EnsureSystemUser は自動通報の報告者として使うシステムユーザーを冪等に作成する。
	EnsureSystemUser(ctx context.Context, id string) error

	// ClearBan はBAN状態を解除し、解除前の制裁状態を返す。
	// ユーザーが存在しない場合はnilを返す。
	ClearBan(ctx context.Context, userID string) (*model.SanctionState, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// FindPrincipal は有効なセッションに紐づくユーザーのPrincipalを返す。
	// セッションが存在しないか期限切れの場合はnilを返す。
	FindPrincipal(ctx context.Context, sessionID string) (*model.Principal, error)

	// DeleteExpiredBefore は指定時刻より前に失効したセッションを削除し、削除件数を返す。
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlockedWordRepository はカスタムブロックワードの永続化インターフェース。
type BlockedWordRepository interface {
	// ListActive は有効なブロックワードを全件返す。
	ListActive(ctx context.Context) ([]*model.BlockedWord, error)

	// List は無効化済みを含む全ブロックワードを語の昇順で返す。
	List(ctx context.Context) ([]*model.BlockedWord, error)

	// Upsert はブロックワードを登録する。無効化済みの語は再有効化し属性を上書きする。
	Upsert(ctx context.Context, word *model.BlockedWord) (*model.BlockedWord, error)

	// InsertIfAbsent は未登録の語のみ登録する。無効化済みの語は再有効化しない。
	// 登録した場合はtrueを返す。
	InsertIfAbsent(ctx context.Context, word *model.BlockedWord) (bool, error)

	// Deactivate は有効な語を無効化する。該当する有効な語がない場合はfalseを返す。
	Deactivate(ctx context.Context, word string) (bool, error)
}

// FlagRepository は通報の永続化インターフェース。
type FlagRepository interface {
	// Create は通報を作成する。同一対象への審査待ち通報が存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, flag *model.Flag) error

	// FindByID は指定IDの通報を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Flag, error)

	// Dismiss は審査待ちの通報を却下済みにする。
	// 既に審査済みの場合はErrNotPendingを返す。
	Dismiss(ctx context.Context, flagID, reviewerID string, reviewedAt time.Time) error

	// ListPending は審査待ち通報を通報者名付きで古い順に返す。
	ListPending(ctx context.Context, limit int) ([]*model.FlagWithContext, error)
}

// ModerationActionRepository はモデレーション措置ログの永続化インターフェース。
type ModerationActionRepository interface {
	// Record は措置の追記と制裁状態の更新を1トランザクションで行い、更新後の制裁状態を返す。
	// upholdが指定された場合は同じトランザクションで通報を認容済みにする。
	// 通報が既に審査済みの場合はErrNotPending、対象ユーザーが存在しない場合はErrNotFoundを返し、何もコミットしない。
	Record(ctx context.Context, action *model.ModerationAction, change model.SanctionChange, uphold *model.FlagUphold) (*model.SanctionState, error)

	// FindByID は指定IDの措置を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ModerationAction, error)

	// ListBySubject は指定ユーザーを対象とする措置を新しい順に返す。
	ListBySubject(ctx context.Context, userID string, limit int) ([]*model.ModerationAction, error)
}

// AppealRepository は異議申し立ての永続化インターフェース。
type AppealRepository interface {
	// Create は異議申し立てを作成する。同一措置への申し立てが存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, appeal *model.Appeal) error

	// FindByID は指定IDの異議申し立てを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Appeal, error)

	// Resolve は審査待ちの異議申し立てを確定させる。
	// changeが指定された場合はsubjectUserIDの制裁状態を同じトランザクションで更新する。
	// 既に審査済みの場合はErrNotPendingを返す。
	Resolve(ctx context.Context, appeal *model.Appeal, subjectUserID string, change *model.SanctionChange) error

	// ListPending は審査待ちの異議申し立てを古い順に返す。
	ListPending(ctx context.Context, limit int) ([]*model.Appeal, error)

	// ListByUser は指定ユーザーの異議申し立てを新しい順に返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Appeal, error)
}

// StatsRepository はモデレーション統計の集計インターフェース。
type StatsRepository interface {
	// ModerationStats はsince以降の措置件数と直近の通報を含む統計を返す。
	ModerationStats(ctx context.Context, since time.Time, recentLimit int) (*model.ModerationStats, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// applySanctionChange はトランザクション内でユーザーの制裁状態に差分を適用し、更新後の状態を返す。
// ユーザーが存在しない場合はErrNotFoundを返す。
func applySanctionChange(ctx context.Context, tx *sql.Tx, userID string, change model.SanctionChange) (*model.SanctionState, error) {
	state := &model.SanctionState{}
	var bannedUntil sql.NullTime
	err := tx.QueryRowContext(ctx,
		`UPDATE users SET
		     warning_count = GREATEST(warning_count + $2, 0),
		     is_banned = CASE WHEN $3::boolean THEN true WHEN $4::boolean THEN false ELSE is_banned END,
		     banned_until = CASE WHEN $3::boolean THEN $5::timestamptz WHEN $4::boolean THEN NULL ELSE banned_until END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING warning_count, is_banned, banned_until`,
		userID, change.WarningDelta, change.SetBan, change.ClearBan, nullTime(change.BannedUntil),
	).Scan(&state.WarningCount, &state.IsBanned, &bannedUntil)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if bannedUntil.Valid {
		t := bannedUntil.Time
		state.BannedUntil = &t
	}
	return state, nil
}

// isUUID はidがUUIDとして解釈できるかどうかを返す。形式が不正なIDは存在しないものとして扱う。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nullTime は*time.TimeをSQLパラメータに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// timePtr はsql.NullTimeを*time.Timeに変換する。
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// stringPtr はsql.NullStringを*stringに変換する。
func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// nullStringPtr は*stringをSQLパラメータに変換する。
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
