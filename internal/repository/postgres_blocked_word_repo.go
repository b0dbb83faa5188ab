package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tradeguard/internal/model"
)

// PostgresBlockedWordRepo はPostgreSQLを使用したブロックワードリポジトリ。
type PostgresBlockedWordRepo struct {
	db *sql.DB
}

// NewPostgresBlockedWordRepo はPostgresBlockedWordRepoを生成する。
func NewPostgresBlockedWordRepo(db *sql.DB) *PostgresBlockedWordRepo {
	return &PostgresBlockedWordRepo{db: db}
}

const blockedWordColumns = `id, word, category, severity, reason, active, created_by, created_at, updated_at`

// scanBlockedWord は1行をBlockedWordに読み取る。
func scanBlockedWord(row interface{ Scan(...any) error }) (*model.BlockedWord, error) {
	w := &model.BlockedWord{}
	var createdBy sql.NullString
	if err := row.Scan(&w.ID, &w.Word, &w.Category, &w.Severity, &w.Reason,
		&w.Active, &createdBy, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.CreatedBy = createdBy.String
	return w, nil
}

// ListActive は有効なブロックワードを全件返す。
func (r *PostgresBlockedWordRepo) ListActive(ctx context.Context) ([]*model.BlockedWord, error) {
	return r.list(ctx, `SELECT `+blockedWordColumns+` FROM blocked_words WHERE active = true ORDER BY word`)
}

// List は無効化済みを含む全ブロックワードを語の昇順で返す。
func (r *PostgresBlockedWordRepo) List(ctx context.Context) ([]*model.BlockedWord, error) {
	return r.list(ctx, `SELECT `+blockedWordColumns+` FROM blocked_words ORDER BY word`)
}

func (r *PostgresBlockedWordRepo) list(ctx context.Context, query string) ([]*model.BlockedWord, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ブロックワードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var words []*model.BlockedWord
	for rows.Next() {
		w, err := scanBlockedWord(rows)
		if err != nil {
			return nil, fmt.Errorf("ブロックワードの読み取りに失敗しました: %w", err)
		}
		words = append(words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ブロックワードの走査に失敗しました: %w", err)
	}
	return words, nil
}

// Upsert はブロックワードを登録する。無効化済みの語は再有効化し属性を上書きする。
func (r *PostgresBlockedWordRepo) Upsert(ctx context.Context, word *model.BlockedWord) (*model.BlockedWord, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO blocked_words (id, word, category, severity, reason, active, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, true, $6, $7, $7)
		 ON CONFLICT (word) DO UPDATE SET
		     category = EXCLUDED.category,
		     severity = EXCLUDED.severity,
		     reason = EXCLUDED.reason,
		     active = true,
		     updated_at = EXCLUDED.updated_at
		 RETURNING `+blockedWordColumns,
		word.ID, word.Word, word.Category, word.Severity, word.Reason,
		nullUUID(word.CreatedBy), word.CreatedAt,
	)
	saved, err := scanBlockedWord(row)
	if err != nil {
		return nil, fmt.Errorf("ブロックワードの登録に失敗しました: %w", err)
	}
	return saved, nil
}

// InsertIfAbsent は未登録の語のみ登録する。無効化済みの語は再有効化しない。
func (r *PostgresBlockedWordRepo) InsertIfAbsent(ctx context.Context, word *model.BlockedWord) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO blocked_words (id, word, category, severity, reason, active, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, true, $6, $7, $7)
		 ON CONFLICT (word) DO NOTHING`,
		word.ID, word.Word, word.Category, word.Severity, word.Reason,
		nullUUID(word.CreatedBy), word.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("ブロックワードの追加に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Deactivate は有効な語を無効化する。
func (r *PostgresBlockedWordRepo) Deactivate(ctx context.Context, word string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE blocked_words SET active = false, updated_at = now()
		 WHERE word = $1 AND active = true`,
		word,
	)
	if err != nil {
		return false, fmt.Errorf("ブロックワードの無効化に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// nullUUID は空文字列をNULLとして扱う。
func nullUUID(id string) sql.NullString {
	if id == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: id, Valid: true}
}

// compile-time interface check
var _ BlockedWordRepository = (*PostgresBlockedWordRepo)(nil)
