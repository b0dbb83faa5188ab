package blocklistsync

import (
	"fmt"
	"net/http"
	"time"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はフィード未変更（304）。
	FetchResultNotModified
	// FetchResultStop は同期停止が必要なステータス（404/410/401/403）。
	FetchResultStop
	// FetchResultBackoff はバックオフが必要なステータス（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	initialBackoff        = 30 * time.Minute
	maxBackoff            = 12 * time.Hour
	parseFailureThreshold = 10
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == http.StatusOK:
		return FetchResultOK
	case statusCode == http.StatusNotModified:
		return FetchResultNotModified
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone,
		statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return FetchResultStop
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff は連続エラー回数に基づく指数バックオフ遅延を返す。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// ApplyStop はフィードの同期を停止する。
func (s *Source) ApplyStop(reason string) {
	s.Stopped = true
	s.LastError = reason
}

// ApplyBackoff は連続エラー回数を増やし、指数バックオフで次回同期時刻を設定する。
func (s *Source) ApplyBackoff(reason string, now time.Time) {
	s.ConsecutiveErrors++
	s.LastError = reason
	s.NextFetchAt = now.Add(CalculateBackoff(s.ConsecutiveErrors - 1))
}

// ApplySuccess はエラー状態をリセットし、通常の同期間隔で次回同期時刻を設定する。
func (s *Source) ApplySuccess(interval time.Duration, now time.Time) {
	s.ConsecutiveErrors = 0
	s.LastError = ""
	s.NextFetchAt = now.Add(interval)
}

// ApplyParseFailure はパース失敗を記録する。閾値に達した場合は同期を停止する。
func (s *Source) ApplyParseFailure(reason string, interval time.Duration, now time.Time) {
	s.ConsecutiveErrors++
	s.LastError = fmt.Sprintf("パース失敗 (%d回連続): %s", s.ConsecutiveErrors, reason)
	s.NextFetchAt = now.Add(interval)
	if s.ConsecutiveErrors >= parseFailureThreshold {
		s.ApplyStop(fmt.Sprintf("パース失敗が%d回連続したため同期を停止しました: %s", s.ConsecutiveErrors, reason))
	}
}
