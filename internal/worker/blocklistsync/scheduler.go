// Package blocklistsync は外部のRSS/Atomフィードからブロックワードを定期的に取り込む。
// スケジューラ、フェッチャー、リトライ/バックオフ戦略を含む。
package blocklistsync

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SourceFetcher は個別フィードの同期処理。
type SourceFetcher interface {
	Fetch(ctx context.Context, src *Source) error
}

// Scheduler はフィード同期のスケジューリングと並列制御を行う。
// 同期状態は各Sourceを担当するゴルーチンのみが更新し、RunOnceは全件の完了を待ってから戻る。
type Scheduler struct {
	sources        []*Source
	fetcher        SourceFetcher
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(urls []string, fetcher SourceFetcher, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	sources := make([]*Source, 0, len(urls))
	for _, u := range urls {
		sources = append(sources, &Source{URL: u})
	}
	return &Scheduler{
		sources:        sources,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if len(s.sources) == 0 {
		s.logger.Info("同期対象のブロックリストフィードが設定されていません")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ブロックリスト同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("feed_count", len(s.sources)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ブロックリスト同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は同期時刻に達したフィードを並列に同期し、同期したフィード数を返す。
// 個別フィードの失敗は記録のみ行い、他のフィードの同期は継続する。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := time.Now()
	now := s.now()

	var due []*Source
	for _, src := range s.sources {
		if src.Due(now) {
			due = append(due, src)
		}
	}
	if len(due) == 0 {
		s.logger.Debug("同期時刻に達したフィードはありません")
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for _, src := range due {
		g.Go(func() error {
			if err := s.fetcher.Fetch(gctx, src); err != nil {
				s.logger.Error("ブロックリストフィードの同期に失敗しました",
					slog.String("feed_url", src.URL),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("ブロックリスト同期サイクルが完了しました",
		slog.Int("feed_count", len(due)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return len(due)
}

// Sources は各フィードの同期状態のスナップショットを返す。
// RunOnceの実行中に呼び出してはならない。
func (s *Scheduler) Sources() []Source {
	out := make([]Source, len(s.sources))
	for i, src := range s.sources {
		out[i] = *src
	}
	return out
}
