package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/mentorbook/internal/middleware"
	"github.com/hitoshi/mentorbook/internal/resolver"
)

// DefaultResolveTimeout はページ表示時のロール解決の待ち時間の上限。
const DefaultResolveTimeout = 5 * time.Second

// PageResolver は画面単位で認証状態を購読する。
type PageResolver interface {
	Watch(ctx context.Context, sessionID string, entry resolver.EntryPoint, nav func(resolver.Outcome)) *resolver.Watch
	FailClosed(ctx context.Context, sessionID string) resolver.Outcome
}

// PageHandler はログイン・サインアップ・ダッシュボード・管理画面の遷移を判定する。
// 画面の描画はフロントエンドが行い、ここでは表示可否とリダイレクト先のみを返す。
type PageHandler struct {
	resolver PageResolver
	cookies  CookieConfig
	timeout  time.Duration
}

// NewPageHandler はPageHandlerを生成する。timeoutが0以下の場合はDefaultResolveTimeoutを使う。
func NewPageHandler(res PageResolver, cookies CookieConfig, timeout time.Duration) *PageHandler {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &PageHandler{resolver: res, cookies: cookies, timeout: timeout}
}

type pageResponse struct {
	Page   string `json:"page"`
	State  string `json:"state"`
	UID    string `json:"uid,omitempty"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Notice string `json:"notice,omitempty"`
}

// Login はログイン画面。
// GET /login
func (h *PageHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, resolver.EntryLogin, resolver.DestLogin, "login")
}

// Signup はサインアップ画面。
// GET /signup
func (h *PageHandler) Signup(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, resolver.EntrySignup, resolver.DestSignup, "signup")
}

// Dashboard は登録済みユーザーの画面。ユーザーレコードを返す。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, resolver.EntryLogin, resolver.DestDashboard, "dashboard")
}

// Admin は管理画面。
// GET /admin
func (h *PageHandler) Admin(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, resolver.EntryLogin, resolver.DestAdmin, "admin")
}

// serve はロール解決の最初の結果を待ち、pageが遷移先と一致すれば表示、
// 一致しなければ遷移先へリダイレクトする。
func (h *PageHandler) serve(w http.ResponseWriter, r *http.Request, entry resolver.EntryPoint, page resolver.Destination, name string) {
	out := h.resolve(r, entry, name)

	// 1. 未登録・エラーの場合はサインアウト済みのためCookieも破棄する
	notice := ""
	switch out.State {
	case resolver.StateUnregistered:
		h.cookies.clearSession(w)
		notice = "account_not_registered"
	case resolver.StateError:
		h.cookies.clearSession(w)
		notice = "role_lookup_failed"
	}

	// 2. 未認証の訪問者はログイン・サインアップ画面を表示できる
	isEntryPage := page == resolver.DestLogin || page == resolver.DestSignup
	if out.Destination != page && !(isEntryPage && out.State == resolver.StateUnauthenticated) {
		http.Redirect(w, r, string(out.Destination), http.StatusFound)
		return
	}

	resp := pageResponse{Page: name, State: out.State.String(), Notice: notice}
	if out.Identity != nil && out.State != resolver.StateUnregistered && out.State != resolver.StateError {
		resp.UID = out.Identity.UID
		resp.Email = out.Identity.Email
	}
	if out.Record != nil {
		resp.Name = out.Record.Name
		resp.Role = string(out.Record.Role)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// resolve は認証状態を購読し、最初に確定した遷移を返す。
// 待ち時間内に確定しない場合はサインアウトさせてログイン画面への遷移を返す。
func (h *PageHandler) resolve(r *http.Request, entry resolver.EntryPoint, name string) resolver.Outcome {
	sessionID := ""
	if c, err := r.Cookie(middleware.SessionCookieName); err == nil {
		sessionID = c.Value
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ch := make(chan resolver.Outcome, 1)
	watch := h.resolver.Watch(ctx, sessionID, entry, func(out resolver.Outcome) {
		select {
		case ch <- out:
		default:
		}
	})

	select {
	case out := <-ch:
		watch.Stop()
		return out
	case <-ctx.Done():
	}

	// 停止後はnavが呼ばれないため、直前に届いた結果があればそれを優先する
	watch.Stop()
	select {
	case out := <-ch:
		return out
	default:
	}
	slog.WarnContext(r.Context(), "role resolution timed out", slog.String("page", name))
	return h.resolver.FailClosed(r.Context(), sessionID)
}
