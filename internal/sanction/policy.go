// Package sanction はモデレーション措置から制裁状態の変更内容を決める純粋な判定ロジックを提供する。
package sanction

import (
	"fmt"
	"time"

	"github.com/hitoshi/tradeguard/internal/model"
)

// MaxTemporaryBanDays は一時BANの最大日数。
const MaxTemporaryBanDays = 365

// Decision は措置要求に対する具体的な制裁内容。
type Decision struct {
	ActionType model.ActionType
	// DurationHours は一時BANのときのみ設定される。
	DurationHours *int
	Change        model.SanctionChange
	// Recommended は判定時点の警告数に基づく提案。記録のみで判定には使わない。
	Recommended Recommendation
}

// Decide は要求された措置を制裁内容に変換する。
// 自動エスカレーションは行わず、現在の警告数は提案の算出にのみ使う。
// durationDaysは一時BAN以外では無視する。
func Decide(currentWarnings int, action model.ActionType, durationDays *int, now time.Time) (*Decision, error) {
	if !action.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("invalid action_type: %q", action))
	}

	d := &Decision{ActionType: action, Recommended: Recommend(currentWarnings)}
	switch action {
	case model.ActionTypeWarning:
		d.Change.WarningDelta = 1
	case model.ActionTypeContentRemoval:
	case model.ActionTypeTemporaryBan:
		if durationDays == nil {
			return nil, model.NewDurationRequiredError()
		}
		days := *durationDays
		if days <= 0 {
			return nil, model.NewDurationNotPositiveError(days)
		}
		if days > MaxTemporaryBanDays {
			return nil, model.NewDurationTooLongError(days, MaxTemporaryBanDays)
		}
		hours := days * 24
		until := now.Add(time.Duration(hours) * time.Hour)
		d.DurationHours = &hours
		d.Change.SetBan = true
		d.Change.BannedUntil = &until
	case model.ActionTypePermanentBan:
		d.Change.SetBan = true
	}
	return d, nil
}

// Reversal は承認された異議申し立てで措置を取り消すときの制裁変更を返す。
// 警告は警告数を1減らし（0未満にはならない）、BANは解除し、コンテンツ削除は状態を変えない。
func Reversal(action model.ActionType) model.SanctionChange {
	switch action {
	case model.ActionTypeWarning:
		return model.SanctionChange{WarningDelta: -1}
	case model.ActionTypeTemporaryBan, model.ActionTypePermanentBan:
		return model.SanctionChange{ClearBan: true}
	default:
		return model.SanctionChange{}
	}
}

// Recommendation はモデレーター向けの次の措置の提案。
type Recommendation struct {
	ActionType   model.ActionType `json:"action_type"`
	DurationDays *int             `json:"duration_days,omitempty"`
}

// Recommend は現在の警告数から次の措置を提案する。参考情報であり自動では適用しない。
func Recommend(warningCount int) Recommendation {
	switch {
	case warningCount >= 5:
		return Recommendation{ActionType: model.ActionTypePermanentBan}
	case warningCount >= 3:
		return Recommendation{ActionType: model.ActionTypeTemporaryBan, DurationDays: intPtr(30)}
	case warningCount == 2:
		return Recommendation{ActionType: model.ActionTypeTemporaryBan, DurationDays: intPtr(7)}
	default:
		return Recommendation{ActionType: model.ActionTypeWarning}
	}
}

func intPtr(v int) *int { return &v }
