package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/mentorbook/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookie。フロントエンドのJavaScriptから読み取る。
	csrfCookieName = "csrf_token"
	// csrfHeaderName は状態変更リクエストでトークンを送るヘッダー。
	csrfHeaderName = "X-CSRF-Token"
	csrfMaxAge     = 86400
)

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	// ExemptPrefixes は検証を行わないパスの前方一致リスト。
	ExemptPrefixes []string
}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF検証ミドルウェアを返す。
// 安全なメソッドでは検証せず、トークンCookieがなければ発行する。
// 状態変更メソッドではCookieとX-CSRF-Tokenヘッダーの一致を要求する。
func NewCSRFMiddleware(cfg CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				if _, err := r.Cookie(csrfCookieName); err != nil {
					if _, err := issueCSRFToken(w, cfg); err != nil {
						slog.ErrorContext(r.Context(), "failed to issue CSRF token", slog.String("error", err.Error()))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			if isExempt(r.URL.Path, cfg.ExemptPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			if reason := validateCSRF(r); reason != "" {
				slog.WarnContext(r.Context(), "CSRF validation failed",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewCSRFError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler はGET /api/csrf-tokenのハンドラーを返す。
// 既存のトークンCookieがあればそれを返し、なければ発行する。
func NewCSRFTokenHandler(cfg CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(csrfCookieName); err == nil && c.Value != "" {
			WriteJSON(w, http.StatusOK, map[string]string{"token": c.Value})
			return
		}
		token, err := issueCSRFToken(w, cfg)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to issue CSRF token", slog.String("error", err.Error()))
			WriteInternalServerError(w)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"token": token})
	})
}

// validateCSRF は検証に失敗した理由を返す。成功時は空文字列。
func validateCSRF(r *http.Request) string {
	c, err := r.Cookie(csrfCookieName)
	if err != nil || c.Value == "" {
		return "missing cookie token"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "missing header token"
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(header)) != 1 {
		return "token mismatch"
	}
	return ""
}

func issueCSRFToken(w http.ResponseWriter, cfg CSRFConfig) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   csrfMaxAge,
		HttpOnly: false,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isExempt(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
