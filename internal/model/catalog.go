package model

import (
	"strings"
	"unicode"
)

const (
	// DefaultMentorImage は画像未設定のメンターに使う画像パス。
	DefaultMentorImage = "/images/default-mentor.png"
	// DefaultResourceCategory はカテゴリ未設定のリソースに使うカテゴリ名。
	DefaultResourceCategory = "General"
)

// Mentor はメンター一覧に表示されるメンター情報を表す。
// セッション中は不変として扱う。
type Mentor struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Company    string   `json:"company"`
	Expertise  []string `json:"expertise"`
	Bio        string   `json:"bio"`
	ImageURL   string   `json:"image"`
	HourlyRate float64  `json:"hourly_rate"`
	Rating     float64  `json:"rating"`
	PaymentURL string   `json:"payment_url,omitempty"`
}

// Slug はプロフィールURLに使う正規化済みの名前を返す。
// 小文字化し、英数字以外の連続をハイフン1つにまとめる。
func (m Mentor) Slug() string {
	return Slugify(m.Name)
}

// ResourceType はリソースの種別を表す。
type ResourceType string

const (
	ResourceTypeVideo    ResourceType = "video"
	ResourceTypeDocument ResourceType = "document"
)

// Resource は学習リソースを表す。
type Resource struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Type        ResourceType `json:"type"`
	URL         string       `json:"url"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
}

// Slugify は文字列をslug形式に変換する。
func Slugify(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// ApplyMentorDefaults は欠損フィールドに既定値を代入する。
// ストア境界で1回だけ呼び出す。
func ApplyMentorDefaults(m *Mentor) {
	if strings.TrimSpace(m.Name) == "" {
		m.Name = DefaultUserName
	}
	if m.ImageURL == "" {
		m.ImageURL = DefaultMentorImage
	}
	if m.Expertise == nil {
		m.Expertise = []string{}
	}
	if m.Rating < 0 {
		m.Rating = 0
	}
	if m.Rating > 5 {
		m.Rating = 5
	}
}

// ApplyResourceDefaults は欠損フィールドに既定値を代入する。
func ApplyResourceDefaults(r *Resource) {
	if strings.TrimSpace(r.Category) == "" {
		r.Category = DefaultResourceCategory
	}
	if r.Type != ResourceTypeVideo {
		r.Type = ResourceTypeDocument
	}
}

// SearchFields は検索語の照合対象（名前、肩書き、所属、専門分野）を返す。
func (m Mentor) SearchFields() []string {
	fields := make([]string, 0, 3+len(m.Expertise))
	fields = append(fields, m.Name, m.Title, m.Company)
	return append(fields, m.Expertise...)
}

// FacetTags はタグ絞り込みの対象となる専門分野を返す。
func (m Mentor) FacetTags() []string { return m.Expertise }

// RatingScore は評価値を返す。
func (m Mentor) RatingScore() (float64, bool) { return m.Rating, true }

// PriceAmount は時間単価を返す。
func (m Mentor) PriceAmount() (float64, bool) { return m.HourlyRate, true }

// SortName は名前順ソートのキーを返す。
func (m Mentor) SortName() string { return m.Name }

// SearchFields は検索語の照合対象（タイトル、説明、カテゴリ）を返す。
func (r Resource) SearchFields() []string {
	return []string{r.Title, r.Description, r.Category}
}

// FacetTags はカテゴリを返す。
func (r Resource) FacetTags() []string { return []string{r.Category} }

// RatingScore はリソースに評価が存在しないためfalseを返す。
func (r Resource) RatingScore() (float64, bool) { return 0, false }

// PriceAmount はリソースに価格が存在しないためfalseを返す。
func (r Resource) PriceAmount() (float64, bool) { return 0, false }

// SortName はタイトルを返す。
func (r Resource) SortName() string { return r.Title }
