// Package filter はメンター・リソース一覧の絞り込みと並び替えを提供する。
//
// Applyは副作用を持たない純粋関数で、入力順を保持したまま条件をすべて満たす要素を返す。
// 並び替えはSortとして独立しており、絞り込みの後に適用する。
package filter

import (
	"cmp"
	"slices"
	"strings"
)

// PriceCeiling は価格スライダーの上端。
// PriceMaxがこの値以上の場合は上限なしとして扱う。
const PriceCeiling = 100000.0

// Item は絞り込み対象の要素が満たすインターフェース。
type Item interface {
	// SearchFields は検索語の照合対象となる文字列を返す。
	SearchFields() []string
	// FacetTags はタグ絞り込みの対象となるタグを返す。
	FacetTags() []string
	// RatingScore は評価値を返す。評価を持たない要素はfalseを返す。
	RatingScore() (float64, bool)
	// PriceAmount は価格を返す。価格を持たない要素はfalseを返す。
	PriceAmount() (float64, bool)
	// SortName は名前順ソートのキーを返す。
	SortName() string
}

// Criteria は一覧に適用する絞り込み条件。
// 未設定（ゼロ値）のフィールドは制約を課さない。
type Criteria struct {
	Search    string   // 部分一致検索語（大文字小文字を区別しない）
	Tags      []string // 選択タグ（OR条件）
	MinRating *float64 // 評価の下限。nilは制約なし
	PriceMin  float64  // 価格下限（含む）
	PriceMax  *float64 // 価格上限（含む）。nilまたはPriceCeiling以上は上限なし。0は実際の上限
}

// Neutral はすべての制約が無効な条件を返す。
func Neutral() Criteria {
	return Criteria{}
}

// IsNeutral は条件が何も制約しないかどうかを返す。
func (c Criteria) IsNeutral() bool {
	return strings.TrimSpace(c.Search) == "" &&
		len(c.Tags) == 0 &&
		c.MinRating == nil &&
		!c.priceActive()
}

// Clone はTagsとポインタ項目を複製した条件を返す。
func (c Criteria) Clone() Criteria {
	out := c
	if c.Tags != nil {
		out.Tags = slices.Clone(c.Tags)
	}
	if c.MinRating != nil {
		v := *c.MinRating
		out.MinRating = &v
	}
	if c.PriceMax != nil {
		v := *c.PriceMax
		out.PriceMax = &v
	}
	return out
}

func (c Criteria) hasUpperBound() bool {
	return c.PriceMax != nil && *c.PriceMax < PriceCeiling
}

func (c Criteria) priceActive() bool {
	return c.PriceMin > 0 || c.hasUpperBound()
}

// Apply は条件をすべて満たす要素を入力順のまま返す。
// 入力スライスは変更しない。
func Apply[T Item](items []T, c Criteria) []T {
	m := newMatcher(c)
	out := make([]T, 0, len(items))
	for _, it := range items {
		if m.match(it) {
			out = append(out, it)
		}
	}
	return out
}

// matcher は条件を照合用に正規化したもの。
type matcher struct {
	term      string
	tags      map[string]struct{}
	minRating *float64
	price     bool
	priceMin  float64
	priceMax  float64
	bounded   bool
}

func newMatcher(c Criteria) matcher {
	m := matcher{
		term:      strings.ToLower(strings.TrimSpace(c.Search)),
		minRating: c.MinRating,
		price:     c.priceActive(),
		priceMin:  c.PriceMin,
		bounded:   c.hasUpperBound(),
	}
	if m.bounded {
		m.priceMax = *c.PriceMax
	}
	if len(c.Tags) > 0 {
		m.tags = make(map[string]struct{}, len(c.Tags))
		for _, t := range c.Tags {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" {
				m.tags[t] = struct{}{}
			}
		}
	}
	return m
}

func (m matcher) match(it Item) bool {
	return m.matchSearch(it) && m.matchTags(it) && m.matchRating(it) && m.matchPrice(it)
}

func (m matcher) matchSearch(it Item) bool {
	if m.term == "" {
		return true
	}
	for _, f := range it.SearchFields() {
		if strings.Contains(strings.ToLower(f), m.term) {
			return true
		}
	}
	return false
}

func (m matcher) matchTags(it Item) bool {
	if len(m.tags) == 0 {
		return true
	}
	for _, t := range it.FacetTags() {
		if _, ok := m.tags[strings.ToLower(strings.TrimSpace(t))]; ok {
			return true
		}
	}
	return false
}

func (m matcher) matchRating(it Item) bool {
	if m.minRating == nil {
		return true
	}
	score, ok := it.RatingScore()
	if !ok {
		return true
	}
	return score >= *m.minRating
}

func (m matcher) matchPrice(it Item) bool {
	if !m.price {
		return true
	}
	price, ok := it.PriceAmount()
	if !ok {
		return true
	}
	if price < m.priceMin {
		return false
	}
	return !m.bounded || price <= m.priceMax
}

// SortKey は一覧の並び順を表す。
type SortKey string

const (
	// SortRating は評価の高い順（既定）。
	SortRating SortKey = "rating"
	// SortPriceAsc は価格の安い順。
	SortPriceAsc SortKey = "price_asc"
	// SortPriceDesc は価格の高い順。
	SortPriceDesc SortKey = "price_desc"
	// SortName は名前順。
	SortName SortKey = "name"
)

// ParseSortKey は文字列をSortKeyに変換する。未知の値はSortRatingになる。
func ParseSortKey(s string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case SortPriceAsc:
		return SortPriceAsc
	case SortPriceDesc:
		return SortPriceDesc
	case SortName:
		return SortName
	default:
		return SortRating
	}
}

// Sort は指定キーで安定ソートした新しいスライスを返す。
// 比較キーを持たない要素は末尾に置き、同値の要素は元の順序を保つ。
func Sort[T Item](items []T, key SortKey) []T {
	out := slices.Clone(items)
	if out == nil {
		out = []T{}
	}

	switch key {
	case SortPriceAsc:
		slices.SortStableFunc(out, func(a, b T) int { return compareOptional(a.PriceAmount, b.PriceAmount, false) })
	case SortPriceDesc:
		slices.SortStableFunc(out, func(a, b T) int { return compareOptional(a.PriceAmount, b.PriceAmount, true) })
	case SortName:
		slices.SortStableFunc(out, func(a, b T) int {
			return strings.Compare(strings.ToLower(a.SortName()), strings.ToLower(b.SortName()))
		})
	default:
		slices.SortStableFunc(out, func(a, b T) int { return compareOptional(a.RatingScore, b.RatingScore, true) })
	}
	return out
}

func compareOptional(a, b func() (float64, bool), desc bool) int {
	av, aok := a()
	bv, bok := b()
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return 1
	case !bok:
		return -1
	}
	if desc {
		return cmp.Compare(bv, av)
	}
	return cmp.Compare(av, bv)
}
