// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordContentCheck(severity string)
	RecordFlagSubmitted(source string)
	RecordFlagReviewed(decision string)
	RecordModerationAction(actionType string)
	RecordAppeal(status string)
	RecordBlocklistReload(success bool)
	SetBlocklistSize(n int)
	RecordBlocklistSync(result string, added int)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	contentChecks     *prometheus.CounterVec
	flagsSubmitted    *prometheus.CounterVec
	flagReviews       *prometheus.CounterVec
	moderationActions *prometheus.CounterVec
	appeals           *prometheus.CounterVec
	blocklistReloads  *prometheus.CounterVec
	blocklistSize     prometheus.Gauge
	blocklistSync     *prometheus.CounterVec
	blocklistAdded    prometheus.Counter
	httpStatus        *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		contentChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_content_checks_total",
			Help: "判定結果の深刻度別のコンテンツ検査数",
		}, []string{"severity"}),
		flagsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_flags_submitted_total",
			Help: "発生源別の通報受付数",
		}, []string{"source"}),
		flagReviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_flag_reviews_total",
			Help: "判定別の通報審査数",
		}, []string{"decision"}),
		moderationActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_moderation_actions_total",
			Help: "種別ごとのモデレーション措置数",
		}, []string{"action_type"}),
		appeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_appeals_total",
			Help: "状態別の異議申し立て数",
		}, []string{"status"}),
		blocklistReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_blocklist_reloads_total",
			Help: "ブロックワードキャッシュの再読み込み回数",
		}, []string{"result"}),
		blocklistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeguard_blocklist_words",
			Help: "キャッシュ中の有効なブロックワード数",
		}),
		blocklistSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_blocklist_sync_total",
			Help: "結果別のブロックリストフィード同期回数",
		}, []string{"result"}),
		blocklistAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_blocklist_sync_added_total",
			Help: "フィード同期で追加されたブロックワードの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_feed_http_status_total",
			Help: "ブロックリストフィード取得時のHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradeguard_feed_fetch_latency_seconds",
			Help:    "ブロックリストフィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.contentChecks,
		c.flagsSubmitted,
		c.flagReviews,
		c.moderationActions,
		c.appeals,
		c.blocklistReloads,
		c.blocklistSize,
		c.blocklistSync,
		c.blocklistAdded,
		c.httpStatus,
		c.fetchLatency,
	)

	return c
}

// RecordContentCheck はコンテンツ検査の判定結果を記録する。
func (c *Collector) RecordContentCheck(severity string) {
	c.contentChecks.WithLabelValues(severity).Inc()
}

// RecordFlagSubmitted は通報の受付を記録する。
func (c *Collector) RecordFlagSubmitted(source string) {
	c.flagsSubmitted.WithLabelValues(source).Inc()
}

// RecordFlagReviewed は通報審査を記録する。
func (c *Collector) RecordFlagReviewed(decision string) {
	c.flagReviews.WithLabelValues(decision).Inc()
}

// RecordModerationAction はモデレーション措置を記録する。
func (c *Collector) RecordModerationAction(actionType string) {
	c.moderationActions.WithLabelValues(actionType).Inc()
}

// RecordAppeal は異議申し立ての受付・確定を記録する。
func (c *Collector) RecordAppeal(status string) {
	c.appeals.WithLabelValues(status).Inc()
}

// RecordBlocklistReload はブロックワードキャッシュの再読み込み結果を記録する。
func (c *Collector) RecordBlocklistReload(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.blocklistReloads.WithLabelValues(result).Inc()
}

// SetBlocklistSize はキャッシュ中のブロックワード数を設定する。
func (c *Collector) SetBlocklistSize(n int) {
	c.blocklistSize.Set(float64(n))
}

// RecordBlocklistSync はフィード同期の結果と追加語数を記録する。
func (c *Collector) RecordBlocklistSync(result string, added int) {
	c.blocklistSync.WithLabelValues(result).Inc()
	if added > 0 {
		c.blocklistAdded.Add(float64(added))
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// Acceptヘッダーが要求すればOpenMetrics形式で応答する。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// SetupMetricsRoute はワーカー用の運用ルートを返す。
// /metricsでスクレイプに応答し、/healthzでプロセスの生存を返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	return mux
}
