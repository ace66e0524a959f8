package filter

import (
	"slices"
	"sync"
)

// View は一覧と絞り込み条件・並び順を保持し、変更のたびに表示結果を再計算する。
// 条件の書き込みは同時に1つだけ行われる。
type View[T Item] struct {
	mu       sync.RWMutex
	items    []T
	criteria Criteria
	sortKey  SortKey
	visible  []T
}

// NewView は中立条件・既定の並び順でViewを生成する。
func NewView[T Item](items []T) *View[T] {
	v := &View[T]{
		items:    slices.Clone(items),
		criteria: Neutral(),
		sortKey:  SortRating,
	}
	v.recompute()
	return v
}

// SetItems は一覧全体を差し替える。
func (v *View[T]) SetItems(items []T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = slices.Clone(items)
	v.recompute()
}

// Update は条件を1回の操作で更新する。
func (v *View[T]) Update(fn func(c *Criteria)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := v.criteria.Clone()
	fn(&c)
	v.criteria = c
	v.recompute()
}

// SetSort は並び順を変更する。
func (v *View[T]) SetSort(key SortKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sortKey = key
	v.recompute()
}

// Reset はすべての条件を中立値に戻す。並び順は既定値に戻る。
func (v *View[T]) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.criteria = Neutral()
	v.sortKey = SortRating
	v.recompute()
}

// Criteria は現在の条件の複製を返す。
func (v *View[T]) Criteria() Criteria {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.criteria.Clone()
}

// SortKey は現在の並び順を返す。
func (v *View[T]) SortKey() SortKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sortKey
}

// Visible は表示対象の要素を返す。
func (v *View[T]) Visible() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.visible)
}

// Total は絞り込み前の件数を返す。
func (v *View[T]) Total() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items)
}

func (v *View[T]) recompute() {
	v.visible = Sort(Apply(v.items, v.criteria), v.sortKey)
}
