// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は表示名や住所などの自由入力テキストからHTMLを除去する。
// bluemondayのStrictPolicyで全てのタグを落とし、プレーンテキストとして保存する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由入力テキストのサニタイズ機能のインターフェース。
// ユーザー名と住所の各行を保存する前に使用する。
type TextSanitizer interface {
	// Sanitize はHTMLタグと制御文字を除去し、連続する空白を1つにまとめたテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicyを使うTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は自由入力テキストをプレーンテキストに正規化する。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは&や<をエスケープするため、保存用に元の文字へ戻す
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, stripped)
	return strings.Join(strings.Fields(cleaned), " ")
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
