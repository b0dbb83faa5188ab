package content

import (
	"strings"
	"unicode"

	"github.com/hitoshi/tradeguard/internal/model"
)

// builtinWords は組み込みの不適切語リスト。
var builtinWords = map[string]struct{}{
	"fuck": {}, "fucking": {}, "shit": {}, "bitch": {}, "damn": {},
	"ass": {}, "hell": {}, "crap": {},
	"bastard": {}, "dick": {}, "piss": {}, "prick": {}, "slut": {},
	"whore": {}, "wanker": {}, "bollocks": {}, "arse": {}, "douche": {},
}

var (
	highSeverityWords   = map[string]struct{}{"fuck": {}, "shit": {}, "bitch": {}, "damn": {}}
	mediumSeverityWords = map[string]struct{}{"ass": {}, "hell": {}, "crap": {}}
)

// IsBuiltinProfanity はトークンが組み込みリストに含まれるかどうかを返す。
func IsBuiltinProfanity(token string) bool {
	_, ok := builtinWords[token]
	return ok
}

// builtinSeverity は組み込み語の深刻度を返す。
func builtinSeverity(token string) model.WordSeverity {
	if _, ok := highSeverityWords[token]; ok {
		return model.WordSeverityHigh
	}
	if _, ok := mediumSeverityWords[token]; ok {
		return model.WordSeverityMedium
	}
	return model.WordSeverityLow
}

// maskField は空白区切りの1フィールド内の文字・数字を伏せ字にする。
// keepFirstがtrueの場合は先頭の文字・数字を残す。記号はそのまま残す。
func maskField(field string, keepFirst bool) string {
	var b strings.Builder
	b.Grow(len(field))
	kept := !keepFirst
	for _, r := range field {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r) {
			if !kept {
				b.WriteRune(r)
				kept = true
				continue
			}
			b.WriteByte('*')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
