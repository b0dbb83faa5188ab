// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は通報の説明文や異議申し立て理由などのユーザー入力から
// HTMLを取り除き、プレーンテキストとして保存できる形にする。
// bluemondayのStrictPolicyで全タグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力テキストのサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// StripTags は全てのHTMLタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// script, styleの内容は捨てる。文字参照は元の文字に戻す。
	// 同一入力に対して常に同一出力を返す。
	StripTags(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// StripTags は全てのHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) StripTags(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
