// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mentorbook/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

type contextKey string

const (
	uidContextKey       = contextKey("uid")
	sessionIDContextKey = contextKey("session_id")
)

// SessionFinder はセッションの検索に必要なインターフェース。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はCookieのセッションを検証し、有効であればuidとセッションIDを
// コンテキストに注入するミドルウェアを返す。
// セッションがないリクエストもそのまま通す。認証必須のルートにはRequireSessionを重ねる。
func NewSessionMiddleware(finder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := finder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.ErrorContext(r.Context(), "failed to find session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session.ID, session.UID)))
		})
	}
}

// RequireSession はNewSessionMiddlewareで認証されていないリクエストに401を返す。
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UIDFromContext(r.Context()) == "" {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UIDFromContext は認証済みユーザーのuidを返す。未認証の場合は空文字列を返す。
func UIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(uidContextKey).(string)
	return uid
}

// SessionIDFromContext は検証済みのセッションIDを返す。未認証の場合は空文字列を返す。
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

// ContextWithSession はコンテキストにセッションIDとuidを注入する。
func ContextWithSession(ctx context.Context, sessionID, uid string) context.Context {
	ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	return context.WithValue(ctx, uidContextKey, uid)
}
