package content

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/tradeguard/internal/model"
)

const (
	// DefaultMaxTextBytes は解析対象テキストの既定の上限バイト数。
	DefaultMaxTextBytes = 10000

	spamThreshold     = 0.7
	toxicityThreshold = 0.8

	categoryProfanity = "profanity"
	categorySpam      = "spam"
	categoryToxicity  = "toxicity"
)

// Analyzer はテキストの違反検出とスコアリングを行う。
// 状態を持たず、複数のgoroutineから同時に利用できる。
type Analyzer struct {
	maxBytes int
}

// NewAnalyzer はAnalyzerを生成する。maxBytesが0以下の場合は既定値を使う。
func NewAnalyzer(maxBytes int) *Analyzer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxTextBytes
	}
	return &Analyzer{maxBytes: maxBytes}
}

// Analyze はテキストを解析する。customは有効なカスタムブロックワード（小文字化済みの語がキー）。
// 不正なUTF-8や空文字列は違反なし・スコア0として扱い、エラーは返さない。
func (a *Analyzer) Analyze(text string, custom map[string]*model.BlockedWord) *model.Analysis {
	if text == "" || !utf8.ValidString(text) {
		return &model.Analysis{FilteredText: text, Violations: []model.Violation{}}
	}
	text = truncateUTF8(text, a.maxBytes)

	var (
		violations []model.Violation
		seen       = make(map[string]struct{})
		filtered   strings.Builder
		high, med  int
	)
	filtered.Grow(len(text))

	forEachField(text, func(field string, isSpace bool) {
		if isSpace {
			filtered.WriteString(field)
			return
		}
		tok := NormalizeToken(field)
		if tok == "" {
			filtered.WriteString(field)
			return
		}

		if w, ok := custom[tok]; ok {
			filtered.WriteString(maskField(field, false))
			key := "custom:" + tok
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				violations = append(violations, model.Violation{
					Word:     tok,
					Severity: model.WordSeverityHigh,
					Source:   model.ViolationSourceCustom,
					Category: string(w.Category),
				})
				high++
			}
			return
		}

		if IsBuiltinProfanity(tok) {
			filtered.WriteString(maskField(field, true))
			key := "builtin:" + tok
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				sev := builtinSeverity(tok)
				violations = append(violations, model.Violation{
					Word:     tok,
					Severity: sev,
					Source:   model.ViolationSourceBuiltin,
					Category: categoryProfanity,
				})
				switch sev {
				case model.WordSeverityHigh:
					high++
				case model.WordSeverityMedium:
					med++
				}
			}
			return
		}

		filtered.WriteString(field)
	})

	if violations == nil {
		violations = []model.Violation{}
	}

	return &model.Analysis{
		Violations:       violations,
		FilteredText:     filtered.String(),
		SpamScore:        SpamScore(text),
		ToxicityScore:    ToxicityScore(text, high, med),
		ReadabilityScore: ReadabilityScore(text),
	}
}

// Evaluate はテキストを解析し、フィルタ判定結果を返す。
// 深刻度は none < warning < block の順序上で上げることしかしない。
func (a *Analyzer) Evaluate(text string, custom map[string]*model.BlockedWord) *model.FilterResult {
	an := a.Analyze(text, custom)

	severity := model.SeverityNone
	var categories []string
	addCategory := func(c string) {
		for _, existing := range categories {
			if existing == c {
				return
			}
		}
		categories = append(categories, c)
	}

	confidence := 0.0
	for _, v := range an.Violations {
		addCategory(v.Category)
		switch {
		case v.Source == model.ViolationSourceCustom:
			severity = severity.Raise(model.SeverityBlock)
			confidence = max(confidence, 0.9)
		case v.Severity == model.WordSeverityHigh:
			severity = severity.Raise(model.SeverityBlock)
			confidence = max(confidence, 0.6)
		default:
			severity = severity.Raise(model.SeverityWarning)
			confidence = max(confidence, 0.6)
		}
	}

	if an.SpamScore > spamThreshold {
		severity = severity.Raise(model.SeverityWarning)
		addCategory(categorySpam)
	}
	if an.ToxicityScore > toxicityThreshold {
		severity = severity.Raise(model.SeverityBlock)
		addCategory(categoryToxicity)
	}

	if severity == model.SeverityNone {
		confidence = 0
	} else {
		confidence = max(confidence, an.SpamScore, an.ToxicityScore)
	}
	if categories == nil {
		categories = []string{}
	}

	return &model.FilterResult{
		Passed:     severity != model.SeverityBlock,
		Severity:   severity,
		Violations: an.Violations,
		Filtered:   an.FilteredText,
		Categories: categories,
		Confidence: confidence,
	}
}

// WordSource は有効なカスタムブロックワードの供給元。
type WordSource interface {
	Get(ctx context.Context) (map[string]*model.BlockedWord, error)
}

// CheckRecorder はフィルタ判定結果の記録先。
type CheckRecorder interface {
	RecordContentCheck(severity string)
}

// Filter はブロックワードの取得とフィルタ判定をまとめたもの。
// ブロックワードの取得に失敗しても組み込みリストのみで判定を続ける。
type Filter struct {
	analyzer *Analyzer
	words    WordSource
	metrics  CheckRecorder
	logger   *slog.Logger
}

// NewFilter はFilterを生成する。metricsはnilでもよい。
func NewFilter(analyzer *Analyzer, words WordSource, metrics CheckRecorder, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{analyzer: analyzer, words: words, metrics: metrics, logger: logger}
}

// FilterContent はテキストのフィルタ判定を行う。
func (f *Filter) FilterContent(ctx context.Context, text string) *model.FilterResult {
	custom, err := f.words.Get(ctx)
	if err != nil {
		f.logger.Warn("ブロックワードの取得に失敗したため組み込みリストのみで判定します",
			slog.String("error", err.Error()),
		)
		custom = nil
	}
	result := f.analyzer.Evaluate(text, custom)
	if f.metrics != nil {
		f.metrics.RecordContentCheck(result.Severity.String())
	}
	return result
}

// Analyze はブロックワードを取得してテキストを解析する。
func (f *Filter) Analyze(ctx context.Context, text string) *model.Analysis {
	custom, err := f.words.Get(ctx)
	if err != nil {
		f.logger.Warn("ブロックワードの取得に失敗したため組み込みリストのみで解析します",
			slog.String("error", err.Error()),
		)
		custom = nil
	}
	return f.analyzer.Analyze(text, custom)
}

// forEachField はテキストを空白の連続とそれ以外の連続に分けて順に渡す。
func forEachField(text string, fn func(field string, isSpace bool)) {
	start := 0
	inSpace := false
	for i, r := range text {
		sp := unicode.IsSpace(r)
		if i == 0 {
			inSpace = sp
			continue
		}
		if sp != inSpace {
			fn(text[start:i], inSpace)
			start = i
			inSpace = sp
		}
	}
	if start < len(text) {
		fn(text[start:], inSpace)
	}
}

// truncateUTF8 はUTF-8の文字境界を保ったまま最大limitバイトに切り詰める。
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
