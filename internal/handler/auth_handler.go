package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/mentorbook/internal/account"
	"github.com/hitoshi/mentorbook/internal/identity"
	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/middleware"
	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/resolver"
)

const (
	oauthStateCookie = "oauth_state"
	oauthEntryCookie = "oauth_entry"
	oauthCookieTTL   = 600
)

// IdentityService は認証ハンドラーが必要とするIdP境界のインターフェース。
type IdentityService interface {
	SignInWithCredential(ctx context.Context, email, password string) (*identity.SignInResult, error)
	FederatedEnabled() bool
	FederatedLoginURL(state string) (string, error)
	SignInWithFederated(ctx context.Context, code string) (*identity.SignInResult, error)
	SignOut(ctx context.Context, sessionID string) error
	Current(ctx context.Context, sessionID string) (*model.Identity, error)
}

// AccountService はアカウント作成のインターフェース。
type AccountService interface {
	SignUp(ctx context.Context, in account.SignUpInput) (*account.SignUpResult, error)
	RegisterFederated(ctx context.Context, signIn *identity.SignInResult, role model.Role) (*account.SignUpResult, error)
	OnboardMentor(ctx context.Context, in account.OnboardMentorInput) (*model.Mentor, error)
}

// SessionResolver はサインイン直後の遷移先と管理者判定を提供する。
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string, entry resolver.EntryPoint, ident *model.Identity) resolver.Outcome
	IsAdmin(ident *model.Identity) bool
}

// RecordFinder はユーザーレコードを検索する。
type RecordFinder interface {
	FindByUID(ctx context.Context, uid string) (*model.UserRecord, error)
}

// CookieConfig はセッションCookieの設定。
type CookieConfig struct {
	Domain        string
	Secure        bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

func (c CookieConfig) setSession(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   c.SessionMaxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c CookieConfig) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c CookieConfig) setShortLived(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// AuthHandler はサインアップ・ログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	identity IdentityService
	accounts AccountService
	resolver SessionResolver
	records  RecordFinder
	metrics  metrics.MetricsCollector
	cookies  CookieConfig
	validate *validator.Validate
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(
	ident IdentityService,
	accounts AccountService,
	res SessionResolver,
	records RecordFinder,
	m metrics.MetricsCollector,
	cookies CookieConfig,
) *AuthHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &AuthHandler{
		identity: ident,
		accounts: accounts,
		resolver: res,
		records:  records,
		metrics:  m,
		cookies:  cookies,
		validate: newValidator(),
	}
}

type signUpRequest struct {
	Name     string `json:"name" validate:"max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=mentee mentor"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// authResponse はサインアップ・ログインのレスポンス。
// Redirectはフロントエンドが次に遷移すべきルート。
type authResponse struct {
	UID      string `json:"uid,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	State    string `json:"state"`
	Redirect string `json:"redirect"`
}

type meResponse struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	Admin    bool   `json:"admin"`
}

// SignUp はメールアドレスとパスワードでアカウントを作成する。
// POST /auth/signup
//
// ユーザーレコードの書き込みに失敗してもセッションは維持し、ダッシュボードへ誘導する。
// 未登録状態の解消はダッシュボードでのロール解決に委ねる。
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeSignUpValidationError(w, req, err)
		return
	}

	result, err := h.accounts.SignUp(r.Context(), account.SignUpInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     model.Role(req.Role),
	})
	if err != nil {
		h.metrics.RecordAuthAttempt("signup", false)
		h.writeCredentialError(w, r, err)
		return
	}
	h.metrics.RecordAuthAttempt("signup", true)

	h.cookies.setSession(w, result.SignIn.Session.ID)
	middleware.WriteJSON(w, http.StatusCreated, authResponse{
		UID:      result.SignIn.Identity.UID,
		Email:    result.SignIn.Identity.Email,
		Role:     string(result.Record.Role),
		State:    resolver.StateChecking.String(),
		Redirect: string(resolver.DestDashboard),
	})
}

// Login はメールアドレスとパスワードでサインインし、ロールに応じた遷移先を返す。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	signIn, err := h.identity.SignInWithCredential(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.RecordAuthAttempt("password", false)
		h.writeCredentialError(w, r, err)
		return
	}
	h.metrics.RecordAuthAttempt("password", true)

	out := h.resolver.Resolve(r.Context(), signIn.Session.ID, resolver.EntryLogin, signIn.Identity)
	if out.State == resolver.StateUnregistered || out.State == resolver.StateError {
		h.cookies.clearSession(w)
	} else {
		h.cookies.setSession(w, signIn.Session.ID)
	}

	resp := authResponse{
		UID:      signIn.Identity.UID,
		Email:    signIn.Identity.Email,
		State:    out.State.String(),
		Redirect: string(out.Destination),
	}
	if out.Record != nil {
		resp.Role = string(out.Record.Role)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := h.identity.SignOut(r.Context(), cookie.Value); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.ErrorContext(r.Context(), "failed to sign out", slog.String("error", err.Error()))
		}
	}

	h.cookies.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromContext(r.Context())
	if sessionID == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	ident, err := h.identity.Current(r.Context(), sessionID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load current identity", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if ident == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	resp := meResponse{
		UID:      ident.UID,
		Email:    ident.Email,
		Provider: ident.Provider,
		Admin:    h.resolver.IsAdmin(ident),
	}

	rec, err := h.records.FindByUID(r.Context(), ident.UID)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to load user record",
			slog.String("uid", ident.UID),
			slog.String("error", err.Error()),
		)
	}
	if rec != nil {
		resp.Name = rec.Name
		resp.Role = string(rec.Role)
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login?entry=login|signup
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.identity.FederatedEnabled() {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewFederatedDisabledError())
		return
	}

	state, err := generateState()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	url, err := h.identity.FederatedLoginURL(state)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to build oauth url", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateとエントリーポイントをCookieに保存（CSRF対策）
	entry := resolver.ParseEntryPoint(r.URL.Query().Get("entry"))
	h.cookies.setShortLived(w, oauthStateCookie, state, oauthCookieTTL)
	h.cookies.setShortLived(w, oauthEntryCookie, string(entry), oauthCookieTTL)

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理し、ロールに応じた画面へリダイレクトする。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.WarnContext(r.Context(), "oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("state"))
		return
	}
	entry := resolver.EntryLogin
	if c, err := r.Cookie(oauthEntryCookie); err == nil {
		entry = resolver.ParseEntryPoint(c.Value)
	}
	h.cookies.setShortLived(w, oauthStateCookie, "", -1)
	h.cookies.setShortLived(w, oauthEntryCookie, "", -1)

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("code"))
		return
	}

	// 3. サインイン
	signIn, err := h.identity.SignInWithFederated(r.Context(), code)
	if err != nil {
		h.metrics.RecordAuthAttempt(model.ProviderGoogle, false)
		h.writeCredentialError(w, r, err)
		return
	}
	h.metrics.RecordAuthAttempt(model.ProviderGoogle, true)

	// 4. サインアップ画面から開始した場合はメンティーとして登録
	if entry == resolver.EntrySignup {
		if _, err := h.accounts.RegisterFederated(r.Context(), signIn, model.RoleMentee); err != nil {
			slog.ErrorContext(r.Context(), "failed to register federated user",
				slog.String("uid", signIn.Identity.UID),
				slog.String("error", err.Error()),
			)
		}
	}

	// 5. ロール解決の結果に応じてリダイレクト
	out := h.resolver.Resolve(r.Context(), signIn.Session.ID, entry, signIn.Identity)
	if out.State == resolver.StateUnregistered || out.State == resolver.StateError {
		h.cookies.clearSession(w)
	} else {
		h.cookies.setSession(w, signIn.Session.ID)
	}
	http.Redirect(w, r, string(out.Destination), http.StatusFound)
}

// writeSignUpValidationError はサインアップ入力の検証エラーを個別のエラーコードで返す。
func (h *AuthHandler) writeSignUpValidationError(w http.ResponseWriter, req signUpRequest, err error) {
	field, tag := failedField(err)
	switch {
	case field == "email" && tag == "email":
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidEmailError(req.Email))
	case field == "password" && tag == "min":
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewWeakPasswordError(identity.MinPasswordLength))
	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, validationError(err))
	}
}

// writeCredentialError は認証処理のエラーをHTTPレスポンスに変換する。
func (h *AuthHandler) writeCredentialError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
	case errors.Is(err, identity.ErrAccountExists):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewAccountExistsError())
	case errors.Is(err, identity.ErrWeakPassword):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewWeakPasswordError(identity.MinPasswordLength))
	case errors.Is(err, identity.ErrFederatedDisabled):
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewFederatedDisabledError())
	case errors.Is(err, account.ErrInvalidRole):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("role"))
	default:
		slog.ErrorContext(r.Context(), "authentication failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
