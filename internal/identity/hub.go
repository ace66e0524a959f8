package identity

import (
	"sync"

	"github.com/hitoshi/mentorbook/internal/model"
)

// Hub はセッションごとの認証状態の変化を購読者に通知する。
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(*model.Identity)
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]func(*model.Identity))}
}

// Subscribe はセッションの認証状態の変化を購読する。
// 戻り値の関数で購読を解除する。解除は複数回呼んでもよい。
func (h *Hub) Subscribe(sessionID string, fn func(*model.Identity)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uint64]func(*model.Identity))
	}
	h.subs[sessionID][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
		})
	}
}

// Publish はセッションの購読者に新しい認証状態を通知する。
// identityがnilの場合はサインアウトを表す。コールバックはロック外で呼び出す。
func (h *Hub) Publish(sessionID string, identity *model.Identity) {
	h.mu.Lock()
	fns := make([]func(*model.Identity), 0, len(h.subs[sessionID]))
	for _, fn := range h.subs[sessionID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}

// Subscribers は指定セッションの購読者数を返す。
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
