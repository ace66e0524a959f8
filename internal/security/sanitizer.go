// Package security はユーザー入力と外部コンテンツの安全化を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTML文字列を許可リストに基づいて安全化する。
// 内部のポリシーは生成後に変更しないため、複数のgoroutineから同時に使用できる。
type Sanitizer struct {
	bio   *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
//
// メンター自己紹介で許可する要素: p, br, strong, em, ul, ol, li, a(href)
// リンクはhttp/httpsの絶対URLのみで、rel="nofollow noopener noreferrer"とtarget="_blank"を付与する。
func NewSanitizer() *Sanitizer {
	bio := bluemonday.NewPolicy()
	bio.AllowElements("p", "br", "strong", "em", "ul", "ol", "li")
	bio.AllowAttrs("href").OnElements("a")
	bio.AllowURLSchemes("http", "https")
	bio.AllowRelativeURLs(false)
	bio.RequireNoFollowOnLinks(true)
	bio.RequireNoReferrerOnLinks(true)
	bio.AddTargetBlankToFullyQualifiedLinks(true)

	return &Sanitizer{
		bio:   bio,
		plain: bluemonday.StrictPolicy(),
	}
}

// SanitizeBio はメンター自己紹介のHTMLを安全化する。
func (s *Sanitizer) SanitizeBio(raw string) string {
	return strings.TrimSpace(s.bio.Sanitize(raw))
}

// PlainText はすべてのタグを除去し、連続する空白を1つにまとめたテキストを返す。
// フィードから取り込むリソース説明に使う。
func (s *Sanitizer) PlainText(raw string) string {
	stripped := html.UnescapeString(s.plain.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}
