// Package model はドメインモデルを定義する。
package model

// Severity はコンテンツ判定の深刻度。none < warning < block の全順序を持つ。
type Severity int

const (
	// SeverityNone は問題なし。
	SeverityNone Severity = iota
	// SeverityWarning は警告付きで通過。
	SeverityWarning
	// SeverityBlock は拒否。
	SeverityBlock
)

// String は深刻度の文字列表現を返す。
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityBlock:
		return "block"
	default:
		return "none"
	}
}

// MarshalText はJSONエンコード用に文字列表現を返す。
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Raise は現在の深刻度とotherの大きい方を返す。
// 一度の評価内で深刻度が下がることはない。
func (s Severity) Raise(other Severity) Severity {
	if other > s {
		return other
	}
	return s
}

// ViolationSource は違反の検出元。
type ViolationSource string

const (
	// ViolationSourceBuiltin は組み込みの不適切語リストによる検出。
	ViolationSourceBuiltin ViolationSource = "builtin"
	// ViolationSourceCustom は運用者定義のブロックワードによる検出。
	ViolationSourceCustom ViolationSource = "custom"
)

// Violation はテキスト中で検出された1件の違反。
type Violation struct {
	Word     string          `json:"word"`
	Severity WordSeverity    `json:"severity"`
	Source   ViolationSource `json:"source"`
	Category string          `json:"category"`
}

// Analysis はテキスト解析結果。
type Analysis struct {
	Violations       []Violation `json:"violations"`
	FilteredText     string      `json:"filtered_text"`
	SpamScore        float64     `json:"spam_score"`
	ToxicityScore    float64     `json:"toxicity_score"`
	ReadabilityScore float64     `json:"readability_score"`
}

// FilterResult はコンテンツフィルタの判定結果。
type FilterResult struct {
	Passed     bool        `json:"passed"`
	Severity   Severity    `json:"severity"`
	Violations []Violation `json:"violations"`
	Filtered   string      `json:"filtered"`
	Categories []string    `json:"categories"`
	Confidence float64     `json:"confidence"`
}
