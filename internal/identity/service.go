// Package identity はIdP境界（資格情報の作成・サインイン・サインアウト・認証状態の購読）を提供する。
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/repository"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// 認証処理のセンチネルエラー
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")
	ErrWeakPassword       = errors.New("password too weak")
	ErrFederatedDisabled  = errors.New("federated sign-in is not configured")
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// SignInResult はサインイン・資格情報作成の結果。
type SignInResult struct {
	Identity    *model.Identity
	Session     *model.Session
	DisplayName string // IdPから取得した表示名（パスワード認証では空）
	Created     bool   // このサインインでidentityが新規作成されたか
}

// Service はIdP境界のビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	hub         *Hub
	config      ServiceConfig
}

// NewService はServiceを生成する。oauthがnilの場合、外部IdPによるサインインは無効になる。
func NewService(
	oauth OAuthProvider,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	hub *Hub,
	config ServiceConfig,
) *Service {
	if hub == nil {
		hub = NewHub()
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		oauth:       oauth,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		hub:         hub,
		config:      config,
	}
}

// NormalizeEmail はメールアドレスの前後の空白を除去し小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateCredential はメールアドレスとパスワードで資格情報を作成し、セッションを発行する。
func (s *Service) CreateCredential(ctx context.Context, email, password string) (*SignInResult, error) {
	email = NormalizeEmail(email)
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	// 1. パスワードをハッシュ化
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// 2. identityを作成
	identity := &model.Identity{
		UID:          uuid.New().String(),
		Email:        email,
		Provider:     model.ProviderPassword,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := s.identRepo.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrIdentityExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	slog.InfoContext(ctx, "credential created",
		slog.String("uid", identity.UID),
		slog.String("provider", identity.Provider),
	)

	// 3. セッションを発行
	session, err := s.createSession(ctx, identity.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SignInResult{Identity: identity, Session: session, Created: true}, nil
}

// SignInWithCredential はメールアドレスとパスワードを検証し、セッションを発行する。
// 存在しないアカウントとパスワード不一致は区別せずErrInvalidCredentialsを返す。
func (s *Service) SignInWithCredential(ctx context.Context, email, password string) (*SignInResult, error) {
	identity, err := s.identRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil || identity.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	session, err := s.createSession(ctx, identity.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.InfoContext(ctx, "user signed in", slog.String("uid", identity.UID))
	return &SignInResult{Identity: identity, Session: session}, nil
}

// FederatedEnabled は外部IdPによるサインインが設定済みかどうかを返す。
func (s *Service) FederatedEnabled() bool {
	return s.oauth != nil
}

// FederatedLoginURL は外部IdPの認証URLを生成する。
func (s *Service) FederatedLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrFederatedDisabled
	}
	return s.oauth.GetLoginURL(state), nil
}

// SignInWithFederated は外部IdPのコールバックを処理し、セッションを発行する。
// 未登録のidentityは新規作成する。同じメールアドレスで別の方式のidentityが存在する場合は
// ErrAccountExistsを返す。
func (s *Service) SignInWithFederated(ctx context.Context, code string) (*SignInResult, error) {
	if s.oauth == nil {
		return nil, ErrFederatedDisabled
	}

	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. 既存のidentityを検索
	identity, err := s.identRepo.FindByProviderSubject(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	created := false
	if identity == nil {
		// 3. 新規identityを作成
		identity = &model.Identity{
			UID:             uuid.New().String(),
			Email:           NormalizeEmail(info.Email),
			Provider:        info.Provider,
			ProviderSubject: info.ProviderUserID,
			CreatedAt:       time.Now(),
		}
		if err := s.identRepo.Create(ctx, identity); err != nil {
			if errors.Is(err, repository.ErrIdentityExists) {
				return nil, ErrAccountExists
			}
			return nil, fmt.Errorf("failed to create identity: %w", err)
		}
		created = true
		slog.InfoContext(ctx, "federated identity created",
			slog.String("uid", identity.UID),
			slog.String("provider", identity.Provider),
		)
	}

	// 4. セッションを発行
	session, err := s.createSession(ctx, identity.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &SignInResult{Identity: identity, Session: session, DisplayName: info.Name, Created: created}, nil
}

// SignOut はセッションを破棄し、購読者にサインアウトを通知する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.InfoContext(ctx, "user signed out")
	s.hub.Publish(sessionID, nil)
	return nil
}

// Current はセッションに紐づくidentityを返す。
// セッションが存在しない・期限切れの場合はnilを返す。
func (s *Service) Current(ctx context.Context, sessionID string) (*model.Identity, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	identity, err := s.identRepo.FindByUID(ctx, session.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity, nil
}

// Subscribe はセッションの認証状態を購読する。
// fnは購読開始時に現在の状態で1回呼ばれ、以後サインアウトのたびに呼ばれる。
// 現在の状態を取得できない場合は未認証として扱う。
func (s *Service) Subscribe(ctx context.Context, sessionID string, fn func(*model.Identity)) (unsubscribe func()) {
	unsubscribe = s.hub.Subscribe(sessionID, fn)

	current, err := s.Current(ctx, sessionID)
	if err != nil {
		slog.WarnContext(ctx, "failed to load auth state", slog.String("error", err.Error()))
		current = nil
	}
	fn(current)

	return unsubscribe
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, uid string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UID:       uid,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
