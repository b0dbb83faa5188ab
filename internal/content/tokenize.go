// Package content はテキストのスコアリングとフィルタ判定を提供する。
// I/Oを持たず、入力テキストとブロックワードのスナップショットのみに依存する。
package content

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN]+`)

// NormalizeToken は1語を照合用の形に正規化する。
// 記号を除去し、小文字化し、NFD分解→結合文字除去→NFC合成を行う。
func NormalizeToken(s string) string {
	// transform.Chainは状態を持つため呼び出しごとに生成する
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(s, ""))
	out, _, err := transform.String(fold, bare)
	if err != nil {
		return bare
	}
	return out
}

// Tokenize はテキストを空白区切りで分割し、正規化済みトークンを返す。
// 正規化後に空になったトークンは除外する。
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if tok := NormalizeToken(f); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
