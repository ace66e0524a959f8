package resolver

import (
	"context"
	"sync"

	"github.com/hitoshi/mentorbook/internal/model"
)

// Watch は1つの画面に対応する認証状態の購読。
// 認証状態が変わるたびに遷移先を決定し、navへ通知する。
type Watch struct {
	r         *Resolver
	sessionID string
	entry     EntryPoint
	nav       func(Outcome)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	gen          uint64
	state        State
	stopped      bool
	done         bool
	cancelLookup context.CancelFunc
	unsubscribe  func()
}

// Watch はセッションの認証状態を購読し、状態が変わるたびにnavを呼ぶ。
//
// 新しい認証状態は処理中の参照を打ち切り、古い結果は破棄される。
// 終端状態に到達した後はnavを呼ばない。Stopの呼び出し後はnavが呼ばれることはない。
// navは内部ロックを保持したまま呼ばれるため、nav内でStopを呼んではならない。
func (r *Resolver) Watch(ctx context.Context, sessionID string, entry EntryPoint, nav func(Outcome)) *Watch {
	wctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		r:         r,
		sessionID: sessionID,
		entry:     entry,
		nav:       nav,
		ctx:       wctx,
		cancel:    cancel,
		state:     StateUnauthenticated,
	}

	unsubscribe := r.auth.Subscribe(wctx, sessionID, w.onAuthState)

	w.mu.Lock()
	w.unsubscribe = unsubscribe
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		unsubscribe()
	}
	return w
}

// State は現在の状態を返す。
func (w *Watch) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stop は購読を解除し、処理中の参照を打ち切る。複数回呼んでもよい。
func (w *Watch) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	unsubscribe := w.unsubscribe
	w.mu.Unlock()

	w.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (w *Watch) onAuthState(identity *model.Identity) {
	w.mu.Lock()
	if w.stopped || w.done {
		w.mu.Unlock()
		return
	}
	w.gen++
	gen := w.gen
	if w.cancelLookup != nil {
		w.cancelLookup()
	}
	lctx, cancel := context.WithCancel(w.ctx)
	w.cancelLookup = cancel
	if identity != nil {
		w.state = StateChecking
	}
	w.mu.Unlock()

	go w.resolve(lctx, cancel, gen, identity)
}

func (w *Watch) resolve(ctx context.Context, cancel context.CancelFunc, gen uint64, identity *model.Identity) {
	defer cancel()

	out := w.r.decide(ctx, w.entry, identity)

	// 1. 古い結果と停止後の結果を破棄し、終端状態を確定する
	w.mu.Lock()
	if w.stopped || w.done || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.state = out.State
	if out.State.Terminal() {
		w.done = true
	}
	w.mu.Unlock()

	// 2. サインアウトによる認証状態の通知は終端確定後のため無視される
	if requiresSignOut(out.State) {
		w.r.forceSignOut(w.ctx, w.sessionID)
	}
	w.r.record(out)

	// 3. 遷移を通知
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.nav(out)
}
