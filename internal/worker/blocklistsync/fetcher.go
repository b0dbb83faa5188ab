package blocklistsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/tradeguard/internal/model"
	"github.com/hitoshi/tradeguard/internal/security"
)

const (
	userAgent       = "TradeGuard/1.0 Blocklist Sync"
	maxReasonLength = 200
)

// Importer は取得したブロックワードの登録先。未登録の語のみ追加し、追加件数を返す。
type Importer interface {
	Import(ctx context.Context, words []*model.BlockedWord) (int, error)
}

// Sanitizer はフィード項目の説明文からHTMLを除去する。
type Sanitizer interface {
	StripTags(raw string) string
}

// Recorder はフィード同期のメトリクス記録先。
type Recorder interface {
	RecordBlocklistSync(result string, added int)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
}

// FetcherConfig はFetcherの動作設定。
type FetcherConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
	// Interval は同期成功後の次回同期までの間隔。
	Interval time.Duration
	// ActorID は取り込んだ語の登録者として記録するユーザー。
	ActorID string
}

// Fetcher は個別のブロックリストフィードを取得し、語を取り込む。
// ETag/Last-Modifiedによる条件付きGET、SSRF検証、gofeedによるパースを行う。
type Fetcher struct {
	importer  Importer
	guard     security.FeedURLGuard
	sanitizer Sanitizer
	metrics   Recorder
	cfg       FetcherConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewFetcher はFetcherの新しいインスタンスを生成する。metricsはnilでもよい。
func NewFetcher(
	importer Importer,
	guard security.FeedURLGuard,
	sanitizer Sanitizer,
	metrics Recorder,
	cfg FetcherConfig,
	logger *slog.Logger,
) *Fetcher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 5 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		importer:  importer,
		guard:     guard,
		sanitizer: sanitizer,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Fetch はフィードを取得して語を取り込み、結果に応じてsrcの同期状態を更新する。
// パース失敗は同期状態に記録するのみでエラーとしない。
func (f *Fetcher) Fetch(ctx context.Context, src *Source) error {
	if err := f.guard.ValidateURL(src.URL); err != nil {
		f.logger.Error("SSRF検証に失敗しました",
			slog.String("feed_url", src.URL),
			slog.String("error", err.Error()),
		)
		src.ApplyStop(fmt.Sprintf("SSRF検証失敗: %s", err.Error()))
		f.record("stopped", 0)
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if src.ETag != "" {
		req.Header.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		req.Header.Set("If-Modified-Since", src.LastModified)
	}

	start := time.Now()
	resp, err := f.guard.NewSafeClient(f.cfg.Timeout).Do(req)
	if err != nil {
		f.logger.Error("HTTPリクエストに失敗しました",
			slog.String("feed_url", src.URL),
			slog.String("error", err.Error()),
		)
		src.ApplyBackoff(fmt.Sprintf("HTTPリクエスト失敗: %s", err.Error()), f.now())
		f.record("error", 0)
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if f.metrics != nil {
		f.metrics.RecordHTTPStatus(resp.StatusCode)
		f.metrics.RecordFetchLatency(time.Since(start))
	}

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultNotModified:
		f.logger.Info("フィードは未変更です（304）", slog.String("feed_url", src.URL))
		src.ApplySuccess(f.cfg.Interval, f.now())
		f.record("not_modified", 0)
		return nil
	case FetchResultStop:
		reason := fmt.Sprintf("HTTPステータス %d により同期を停止しました", resp.StatusCode)
		f.logger.Warn("フィード同期を停止します",
			slog.String("feed_url", src.URL),
			slog.Int("http_status", resp.StatusCode),
		)
		src.ApplyStop(reason)
		f.record("stopped", 0)
		return nil
	case FetchResultBackoff:
		f.logger.Warn("フィード同期にバックオフを適用します",
			slog.String("feed_url", src.URL),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("consecutive_errors", src.ConsecutiveErrors+1),
		)
		src.ApplyBackoff(fmt.Sprintf("HTTPステータス %d によりバックオフを適用しました", resp.StatusCode), f.now())
		f.record("backoff", 0)
		return nil
	default:
		f.logger.Warn("予期しないHTTPステータスコード",
			slog.String("feed_url", src.URL),
			slog.Int("http_status", resp.StatusCode),
		)
		src.ApplyBackoff(fmt.Sprintf("予期しないHTTPステータス: %d", resp.StatusCode), f.now())
		f.record("backoff", 0)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize))
	if err != nil {
		src.ApplyBackoff(fmt.Sprintf("レスポンス読み取り失敗: %s", err.Error()), f.now())
		f.record("error", 0)
		return fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		f.logger.Error("フィードのパースに失敗しました",
			slog.String("feed_url", src.URL),
			slog.String("error", err.Error()),
		)
		src.ApplyParseFailure(err.Error(), f.cfg.Interval, f.now())
		f.record("parse_error", 0)
		return nil
	}

	words := f.convertItems(src.URL, parsed.Items)
	added, err := f.importer.Import(ctx, words)
	if err != nil {
		src.ApplyBackoff(fmt.Sprintf("ブロックワードの取り込み失敗: %s", err.Error()), f.now())
		f.record("error", added)
		return fmt.Errorf("ブロックワードの取り込みに失敗: %w", err)
	}

	// 取り込みが成功した場合のみ検証子を保存する
	if etag := resp.Header.Get("ETag"); etag != "" {
		src.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		src.LastModified = lastMod
	}
	src.ApplySuccess(f.cfg.Interval, f.now())
	f.record("ok", added)

	f.logger.Info("ブロックリストフィードの同期が完了しました",
		slog.String("feed_url", src.URL),
		slog.Int("items_total", len(parsed.Items)),
		slog.Int("words_added", added),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (f *Fetcher) record(result string, added int) {
	if f.metrics != nil {
		f.metrics.RecordBlocklistSync(result, added)
	}
}

// convertItems はフィード項目をブロックワードに変換する。
// タイトルを語、最初のカテゴリを分類とし、深刻度名のカテゴリがあれば深刻度とする。
// 語の正規化と検証はImporter側で行う。
func (f *Fetcher) convertItems(feedURL string, items []*gofeed.Item) []*model.BlockedWord {
	host := feedURL
	if u, err := url.Parse(feedURL); err == nil && u.Host != "" {
		host = u.Host
	}

	words := make([]*model.BlockedWord, 0, len(items))
	for _, item := range items {
		if item == nil || strings.TrimSpace(item.Title) == "" {
			continue
		}
		w := &model.BlockedWord{
			Word:      strings.TrimSpace(item.Title),
			Category:  model.BlockedWordCategoryFraud,
			Severity:  model.WordSeverityHigh,
			CreatedBy: f.cfg.ActorID,
		}
		for i, c := range item.Categories {
			c = strings.ToLower(strings.TrimSpace(c))
			if i == 0 && model.BlockedWordCategory(c).Valid() {
				w.Category = model.BlockedWordCategory(c)
				continue
			}
			if model.WordSeverity(c).Valid() {
				w.Severity = model.WordSeverity(c)
			}
		}
		w.Reason = f.reason(host, item.Description)
		words = append(words, w)
	}
	return words
}

func (f *Fetcher) reason(host, description string) string {
	reason := "imported from " + host
	if f.sanitizer != nil {
		if d := f.sanitizer.StripTags(description); d != "" {
			reason += ": " + d
		}
	}
	if runes := []rune(reason); len(runes) > maxReasonLength {
		reason = string(runes[:maxReasonLength])
	}
	return reason
}
