// Package cleanup は失効済みセッションの定期削除ジョブを提供する。
// 失効後も保持期間（デフォルト30日）は監査用に残し、それを過ぎた行を削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionPurger は失効済みセッションの削除を行う。
type SessionPurger interface {
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した失効済みセッションの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions      SessionPurger
	logger        *slog.Logger
	RetentionDays int
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionDaysが0以下の場合は30日。
func NewCleanupJob(sessions SessionPurger, retentionDays int, logger *slog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:      sessions,
		logger:        logger,
		RetentionDays: retentionDays,
		now:           time.Now,
	}
}

// Run はRetentionDays日より前に失効したセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.sessions.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は指定間隔でRunを繰り返す。起動直後に1回実行し、コンテキストのキャンセルで停止する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = j.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
