// Package model はドメインモデルを定義する。
package model

import "time"

// TargetType は通報・モデレーション対象の種別を表す。
type TargetType string

const (
	// TargetTypeListing は出品を表す。
	TargetTypeListing TargetType = "listing"
	// TargetTypeMessage はメッセージを表す。
	TargetTypeMessage TargetType = "message"
	// TargetTypeUser はユーザーを表す。
	TargetTypeUser TargetType = "user"
)

// Valid は定義済みの対象種別かどうかを返す。
func (t TargetType) Valid() bool {
	switch t {
	case TargetTypeListing, TargetTypeMessage, TargetTypeUser:
		return true
	}
	return false
}

// FlagReason は通報理由を表す。
type FlagReason string

const (
	FlagReasonSpam          FlagReason = "spam"
	FlagReasonInappropriate FlagReason = "inappropriate"
	FlagReasonFraud         FlagReason = "fraud"
	FlagReasonHarassment    FlagReason = "harassment"
	FlagReasonOther         FlagReason = "other"
)

// Valid は定義済みの通報理由かどうかを返す。
func (r FlagReason) Valid() bool {
	switch r {
	case FlagReasonSpam, FlagReasonInappropriate, FlagReasonFraud, FlagReasonHarassment, FlagReasonOther:
		return true
	}
	return false
}

// FlagStatus は通報の審査状態を表す。
type FlagStatus string

const (
	// FlagStatusPending は審査待ち。
	FlagStatusPending FlagStatus = "pending"
	// FlagStatusUpheld は通報が認められモデレーション措置が取られた状態。
	FlagStatusUpheld FlagStatus = "upheld"
	// FlagStatusDismissed は通報が却下された状態。
	FlagStatusDismissed FlagStatus = "dismissed"
)

// FlagSource は通報の発生源を表す。
type FlagSource string

const (
	// FlagSourceManual はユーザーによる手動通報。
	FlagSourceManual FlagSource = "manual"
	// FlagSourceAutomated はコンテンツ解析による自動通報。
	FlagSourceAutomated FlagSource = "automated"
)

// Flag はコミュニティメンバーによる通報を表す。
// 削除されることはなく、モデレーターの審査でのみ状態が変わる。
type Flag struct {
	ID                 string
	ReporterID         string
	TargetType         TargetType
	TargetID           string
	Reason             FlagReason
	Description        string
	Status             FlagStatus
	Source             FlagSource
	CreatedAt          time.Time
	ReviewedAt         *time.Time
	ReviewedBy         *string
	ModerationActionID *string
}

// FlagWithContext はモデレーター向けに対象スニペットと通報者情報を付加した通報。
type FlagWithContext struct {
	Flag
	ReporterName  string
	TargetSnippet string
}

// FlagDecision は通報審査の判定を表す。
type FlagDecision string

const (
	FlagDecisionUphold  FlagDecision = "uphold"
	FlagDecisionDismiss FlagDecision = "dismiss"
)

// ActionType はモデレーション措置の種別を表す。
type ActionType string

const (
	ActionTypeWarning        ActionType = "warning"
	ActionTypeContentRemoval ActionType = "content_removal"
	ActionTypeTemporaryBan   ActionType = "temporary_ban"
	ActionTypePermanentBan   ActionType = "permanent_ban"
)

// Valid は定義済みの措置種別かどうかを返す。
func (a ActionType) Valid() bool {
	switch a {
	case ActionTypeWarning, ActionTypeContentRemoval, ActionTypeTemporaryBan, ActionTypePermanentBan:
		return true
	}
	return false
}

// IsBan はBAN系の措置かどうかを返す。
func (a ActionType) IsBan() bool {
	return a == ActionTypeTemporaryBan || a == ActionTypePermanentBan
}

// ModerationAction はモデレーターの判断を記録する追記専用のログエントリ。
type ModerationAction struct {
	ID          string
	ModeratorID string
	TargetType  TargetType
	TargetID    string
	// SubjectUserID は制裁状態が影響を受けるユーザー（対象ユーザー自身、または出品・メッセージの所有者）。
	SubjectUserID string
	ActionType    ActionType
	Reason        string
	// DurationHours がnilの場合は永久、または期間の概念がない措置。
	DurationHours *int
	FlagID        *string
	CreatedAt     time.Time
}

// ActionSpec はモデレーション措置の要求内容。
type ActionSpec struct {
	ActionType   ActionType
	Reason       string
	DurationDays *int
}

// AppealStatus は異議申し立ての状態を表す。
type AppealStatus string

const (
	AppealStatusPending  AppealStatus = "pending"
	AppealStatusApproved AppealStatus = "approved"
	AppealStatusDenied   AppealStatus = "denied"
)

// Appeal は特定のModerationActionに対するユーザーの異議申し立て。
// moderation_action_idごとに1件のみ存在できる。
type Appeal struct {
	ID                 string
	UserID             string
	ModerationActionID string
	Reason             string
	Status             AppealStatus
	ReverseAction      bool
	SubmittedAt        time.Time
	ReviewedAt         *time.Time
	ReviewedBy         *string
}

// BlockedWordCategory はブロックワードの分類。
type BlockedWordCategory string

const (
	BlockedWordCategoryProfanity BlockedWordCategory = "profanity"
	BlockedWordCategorySpam      BlockedWordCategory = "spam"
	BlockedWordCategoryFraud     BlockedWordCategory = "fraud"
	BlockedWordCategoryHate      BlockedWordCategory = "hate"
)

// Valid は定義済みの分類かどうかを返す。
func (c BlockedWordCategory) Valid() bool {
	switch c {
	case BlockedWordCategoryProfanity, BlockedWordCategorySpam, BlockedWordCategoryFraud, BlockedWordCategoryHate:
		return true
	}
	return false
}

// WordSeverity はブロックワード・違反の深刻度。
type WordSeverity string

const (
	WordSeverityLow    WordSeverity = "low"
	WordSeverityMedium WordSeverity = "medium"
	WordSeverityHigh   WordSeverity = "high"
)

// Valid は定義済みの深刻度かどうかを返す。
func (s WordSeverity) Valid() bool {
	switch s {
	case WordSeverityLow, WordSeverityMedium, WordSeverityHigh:
		return true
	}
	return false
}

// BlockedWord は運用者が管理するカスタムブロックワード。
type BlockedWord struct {
	ID        string
	Word      string // 小文字化済み
	Category  BlockedWordCategory
	Severity  WordSeverity
	Reason    string
	Active    bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SanctionChange はユーザーの制裁状態に適用する差分。
// 警告数は0未満にならない。SetBanとClearBanは同時に指定しない。
type SanctionChange struct {
	WarningDelta int
	SetBan       bool
	// BannedUntil はSetBan時のみ参照する。nilは永久BAN。
	BannedUntil *time.Time
	ClearBan    bool
}

// IsNoop は状態変更を伴わない差分かどうかを返す。
func (c SanctionChange) IsNoop() bool {
	return c.WarningDelta == 0 && !c.SetBan && !c.ClearBan
}

// FlagUphold は措置記録と同一トランザクションで通報を認容済みにするための情報。
type FlagUphold struct {
	FlagID     string
	ReviewerID string
	ReviewedAt time.Time
}

// ModerationStats はモデレーション統計の集計結果。
type ModerationStats struct {
	PendingFlags    int
	PendingAppeals  int
	ActiveBans      int
	ActionsByType   map[ActionType]int
	RecentFlagCount int
	RecentFlags     []*Flag
	Since           time.Time
}

// Target は通報・措置の対象を解決した結果。
type Target struct {
	Type TargetType
	ID   string
	// OwnerID は対象の所有者。対象がユーザーの場合はそのユーザー自身。
	OwnerID string
	Snippet string
}
