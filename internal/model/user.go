// Package model はドメインモデルを定義する。
package model

import "time"

// User はマーケットプレイスの利用ユーザーを表す。
// 制裁状態（警告数・BAN状態）はユーザー集約の一部として保持する。
type User struct {
	ID          string
	Email       string
	Name        string
	IsModerator bool
	SanctionState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SanctionState はユーザーの制裁状態の射影。
// ModerationActionLog と AppealProcessor からのみ更新される。
type SanctionState struct {
	WarningCount int
	IsBanned     bool
	// BannedUntil がnilかつIsBanned=trueの場合は永久BANを表す。
	BannedUntil *time.Time
}

// ActiveBan は指定時刻においてBANが有効かどうかを返す。
// BANの失効はバックグラウンド処理ではなく判定時点で遅延評価する。
func (s SanctionState) ActiveBan(now time.Time) bool {
	if !s.IsBanned {
		return false
	}
	if s.BannedUntil == nil {
		return true
	}
	return now.Before(*s.BannedUntil)
}

// IsPermanentBan は永久BAN状態かどうかを返す。
func (s SanctionState) IsPermanentBan() bool {
	return s.IsBanned && s.BannedUntil == nil
}

// Principal はリクエスト元の検証済みアイデンティティ。
// 認証方式には関与せず、ユーザーIDとモデレーター権限の主張のみを保持する。
type Principal struct {
	UserID      string
	IsModerator bool
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
