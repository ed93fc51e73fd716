// Package security はアプリケーションのセキュリティ機能を提供する。
//
// LabelSanitizer はピン留めタブ名などの利用者入力ラベルからHTMLを除去し、
// プレーンテキストとして保存できる形に正規化する。
// bluemondayのStrictPolicyで全タグを除去したうえで、エンティティを戻し、
// 空白を1つにまとめて最大長で切り詰める。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxLabelLength はラベルの最大文字数（rune数）。
const DefaultMaxLabelLength = 100

// LabelSanitizerService はラベルのサニタイズ機能のインターフェースを定義する。
type LabelSanitizerService interface {
	// Sanitize はラベルからHTMLを除去したプレーンテキストを返す。
	// 空白のみの入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// labelSanitizer はLabelSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type labelSanitizer struct {
	policy *bluemonday.Policy
	maxLen int
}

// NewLabelSanitizer はLabelSanitizerServiceの新しいインスタンスを生成する。
// maxLenが0以下の場合はDefaultMaxLabelLengthを使用する。
func NewLabelSanitizer(maxLen int) *labelSanitizer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLabelLength
	}
	return &labelSanitizer{
		policy: bluemonday.StrictPolicy(),
		maxLen: maxLen,
	}
}

// Sanitize はラベルをプレーンテキストに正規化する。
func (s *labelSanitizer) Sanitize(raw string) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= s.maxLen {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:s.maxLen]))
}
