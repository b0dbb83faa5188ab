package contentstore

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// SnippetLength はスニペットの最大文字数。
const SnippetLength = 200

// Snippet はタイトルと本文からHTMLを除いたテキストの先頭SnippetLength文字を返す。
// 連続する空白は1つにまとめる。
func Snippet(title, body string) string {
	text := extractText(title) + " " + extractText(body)
	text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")

	runes := []rune(text)
	if len(runes) <= SnippetLength {
		return text
	}
	return string(runes[:SnippetLength])
}

// extractText はHTML断片からテキストノードのみを取り出す。script, styleの中身は捨てる。
func extractText(fragment string) string {
	if fragment == "" {
		return ""
	}
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if isSkippedTag(string(tn)) {
				skip++
			}
			if isBlockTag(string(tn)) {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if isSkippedTag(string(tn)) && skip > 0 {
				skip--
			}
			if isBlockTag(string(tn)) {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isSkippedTag(name string) bool {
	return name == "script" || name == "style"
}

func isBlockTag(name string) bool {
	switch name {
	case "p", "div", "br", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "td", "blockquote":
		return true
	}
	return false
}
