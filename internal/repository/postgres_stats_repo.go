package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tradeguard/internal/model"
)

// PostgresStatsRepo はPostgreSQLを使用したモデレーション統計リポジトリ。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// ModerationStats はsince以降の措置件数と直近の通報を含む統計を返す。
// 有効なBANは期限切れの一時BANを除外して数える。
func (r *PostgresStatsRepo) ModerationStats(ctx context.Context, since time.Time, recentLimit int) (*model.ModerationStats, error) {
	stats := &model.ModerationStats{
		ActionsByType: make(map[model.ActionType]int),
		Since:         since,
	}

	err := r.db.QueryRowContext(ctx,
		`SELECT
		     (SELECT count(*) FROM flags WHERE status = 'pending'),
		     (SELECT count(*) FROM appeals WHERE status = 'pending'),
		     (SELECT count(*) FROM users WHERE is_banned = true AND (banned_until IS NULL OR banned_until > now())),
		     (SELECT count(*) FROM flags WHERE created_at >= $1)`,
		since,
	).Scan(&stats.PendingFlags, &stats.PendingAppeals, &stats.ActiveBans, &stats.RecentFlagCount)
	if err != nil {
		return nil, fmt.Errorf("統計の集計に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT action_type, count(*) FROM moderation_actions WHERE created_at >= $1 GROUP BY action_type`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("措置件数の集計に失敗しました: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var at model.ActionType
		var n int
		if err := rows.Scan(&at, &n); err != nil {
			return nil, fmt.Errorf("措置件数の読み取りに失敗しました: %w", err)
		}
		stats.ActionsByType[at] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("措置件数の走査に失敗しました: %w", err)
	}

	flagRows, err := r.db.QueryContext(ctx,
		`SELECT `+flagColumns+`
		 FROM flags f
		 WHERE f.created_at >= $1
		 ORDER BY f.created_at DESC
		 LIMIT $2`,
		since, recentLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("直近の通報の取得に失敗しました: %w", err)
	}
	defer flagRows.Close()
	for flagRows.Next() {
		f := &model.Flag{}
		var reviewedAt sql.NullTime
		var reviewedBy, actionID sql.NullString
		if err := flagRows.Scan(flagScanTargets(f, &reviewedAt, &reviewedBy, &actionID)...); err != nil {
			return nil, fmt.Errorf("直近の通報の読み取りに失敗しました: %w", err)
		}
		f.ReviewedAt = timePtr(reviewedAt)
		f.ReviewedBy = stringPtr(reviewedBy)
		f.ModerationActionID = stringPtr(actionID)
		stats.RecentFlags = append(stats.RecentFlags, f)
	}
	if err := flagRows.Err(); err != nil {
		return nil, fmt.Errorf("直近の通報の走査に失敗しました: %w", err)
	}

	return stats, nil
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)
