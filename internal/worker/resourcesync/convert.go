package resourcesync

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/mentorbook/internal/model"
)

// maxDescriptionRunes はリソース説明の最大文字数。
const maxDescriptionRunes = 500

// videoHosts は動画リソースとみなすリンク先ホスト。
var videoHosts = map[string]bool{
	"youtube.com":      true,
	"www.youtube.com":  true,
	"m.youtube.com":    true,
	"youtu.be":         true,
	"vimeo.com":        true,
	"www.vimeo.com":    true,
	"player.vimeo.com": true,
}

// TextSanitizer はHTMLをプレーンテキストに変換する。
type TextSanitizer interface {
	PlainText(raw string) string
}

// InferType は記事の種別を推定する。
// 動画のエンクロージャーを持つか、リンク先が動画サイトの場合はvideo、それ以外はdocument。
func InferType(item *gofeed.Item, link string) model.ResourceType {
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(strings.ToLower(enc.Type), "video/") {
			return model.ResourceTypeVideo
		}
	}
	if u, err := url.Parse(link); err == nil && videoHosts[strings.ToLower(u.Hostname())] {
		return model.ResourceTypeVideo
	}
	return model.ResourceTypeDocument
}

// convertItems はgofeedの記事をリソースに変換する。
// タイトルまたはリンクが取れない記事は取り込まない。
func convertItems(feed *gofeed.Feed, sanitizer TextSanitizer) []model.Resource {
	resources := make([]model.Resource, 0, len(feed.Items))

	for _, item := range feed.Items {
		if item == nil {
			continue
		}

		link := strings.TrimSpace(item.Link)
		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			link = item.GUID
		}
		title := sanitizer.PlainText(item.Title)
		if link == "" || title == "" {
			continue
		}

		desc := item.Description
		if desc == "" {
			desc = item.Content
		}

		res := model.Resource{
			Title:       title,
			Type:        InferType(item, link),
			URL:         link,
			Description: truncateRunes(sanitizer.PlainText(desc), maxDescriptionRunes),
			Category:    categoryOf(feed, item),
		}
		model.ApplyResourceDefaults(&res)
		resources = append(resources, res)
	}

	return resources
}

// categoryOf は記事のカテゴリ、なければフィードのタイトルを返す。
func categoryOf(feed *gofeed.Feed, item *gofeed.Item) string {
	for _, c := range item.Categories {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return strings.TrimSpace(feed.Title)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
