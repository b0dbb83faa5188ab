package blocklistsync

import "time"

// Source は同期対象のブロックリストフィードと、その取得状態。
// 状態はワーカープロセスのメモリ上にのみ保持し、再起動時はリセットされる。
type Source struct {
	URL               string
	ETag              string
	LastModified      string
	ConsecutiveErrors int
	NextFetchAt       time.Time
	Stopped           bool
	LastError         string
}

// Due は指定時刻に同期すべきかどうかを返す。
func (s *Source) Due(now time.Time) bool {
	return !s.Stopped && !now.Before(s.NextFetchAt)
}
