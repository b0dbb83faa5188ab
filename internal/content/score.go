package content

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	repeatedPunct = regexp.MustCompile(`[!?]{2,}`)
	// スキーム付き、www.始まり、または小文字2文字以上のTLDで終わるホスト名のみをURLとみなす。
	// 価格（499.99）や略語（e.g.）、文の区切り忘れ（scratches.It）は含めない。
	urlPattern  = regexp.MustCompile(`(?i:\b(?:https?|ftp)://\S+|\bwww\.\S+)|\b[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*\.[a-z]{2,}\b(?:/\S*)?`)
	sentenceEnd = regexp.MustCompile(`[.!?]+`)
	vowelGroup  = regexp.MustCompile(`[aeiouy]+`)

	aggressivePhrases = regexp.MustCompile(`(?i)\b(?:kill\s+your\s*self|kys|go\s+die|i\s+will\s+(?:kill|hurt|find)\s+you|shut\s+up|you(?:'re|\s+are)\s+(?:stupid|an\s+idiot|worthless|pathetic|trash)|i\s+hate\s+you|piece\s+of\s+(?:trash|garbage))\b`)

	promotionalPhrases = []string{"buy now", "free", "discount", "limited time", "click here"}
)

// SpamScore はテキストのスパムらしさを[0,1]で返す。
func SpamScore(text string) float64 {
	if text == "" {
		return 0
	}
	score := 0.0

	if upperRatio(text) > 0.3 {
		score += 0.3
	}

	punct := len(repeatedPunct.FindAllStringIndex(text, -1))
	score += math.Min(0.3, 10*float64(punct)/float64(len(text)))

	score += math.Min(0.2, 0.1*float64(repeatedRuns(text, 4)))

	score += math.Min(0.4, 0.2*float64(countURLs(text)))

	lower := strings.ToLower(text)
	hits := 0
	for _, p := range promotionalPhrases {
		hits += strings.Count(lower, p)
	}
	score += math.Min(0.3, 0.15*float64(hits))

	return clamp(score, 0, 1)
}

// countURLs はテキスト中のURLらしき文字列の数を返す。
func countURLs(text string) int {
	return len(urlPattern.FindAllStringIndex(text, -1))
}

// ToxicityScore は深刻度別の違反件数と攻撃的表現の一致数から有害度を[0,1]で返す。
func ToxicityScore(text string, high, medium int) float64 {
	aggressive := len(aggressivePhrases.FindAllStringIndex(text, -1))
	return math.Min(1, 0.4*float64(high)+0.2*float64(medium)+0.3*float64(aggressive))
}

// ReadabilityScore はFlesch Reading Easeの近似値を[0,100]で返す。空テキストは0。
func ReadabilityScore(text string) float64 {
	words := Tokenize(text)
	if len(words) == 0 {
		return 0
	}
	sentences := len(sentenceEnd.FindAllStringIndex(text, -1))
	if sentences == 0 {
		sentences = 1
	}
	syllables := 0
	for _, w := range words {
		syllables += estimateSyllables(w)
	}
	wc := float64(len(words))
	score := 206.835 - 1.015*(wc/float64(sentences)) - 84.6*(float64(syllables)/wc)
	return clamp(score, 0, 100)
}

// upperRatio は英字に占める大文字の割合を返す。英字がなければ0。
func upperRatio(text string) float64 {
	letters, upper := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// repeatedRuns は同一文字がminLen回以上連続する箇所の数を返す。
// RE2は後方参照を持たないためルーン単位で走査する。
func repeatedRuns(text string, minLen int) int {
	runs := 0
	var prev rune = utf8.RuneError
	n := 0
	for _, r := range text {
		if r == prev {
			n++
			if n == minLen {
				runs++
			}
			continue
		}
		prev = r
		n = 1
	}
	return runs
}

// estimateSyllables は母音の連なりから音節数を概算する。最低1。
func estimateSyllables(word string) int {
	count := len(vowelGroup.FindAllStringIndex(word, -1))
	if strings.HasSuffix(word, "e") && !strings.HasSuffix(word, "le") && count > 1 {
		count--
	}
	if count < 1 {
		return 1
	}
	return count
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
