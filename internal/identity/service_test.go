package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/repository"
)

// --- モック定義 ---

type mockIdentityRepo struct {
	mu                      sync.Mutex
	byUID                   map[string]*model.Identity
	createFn                func(ctx context.Context, identity *model.Identity) error
	findByProviderSubjectFn func(ctx context.Context, provider, subject string) (*model.Identity, error)
	findErr                 error
}

func newMockIdentityRepo() *mockIdentityRepo {
	return &mockIdentityRepo{byUID: make(map[string]*model.Identity)}
}

func (m *mockIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	if m.createFn != nil {
		return m.createFn(ctx, identity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byUID {
		if existing.Email == identity.Email {
			return repository.ErrIdentityExists
		}
	}
	cp := *identity
	m.byUID[identity.UID] = &cp
	return nil
}

func (m *mockIdentityRepo) FindByUID(_ context.Context, uid string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	if id, ok := m.byUID[uid]; ok {
		cp := *id
		return &cp, nil
	}
	return nil, nil
}

func (m *mockIdentityRepo) FindByEmail(_ context.Context, email string) (*model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, id := range m.byUID {
		if id.Email == email {
			cp := *id
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockIdentityRepo) FindByProviderSubject(ctx context.Context, provider, subject string) (*model.Identity, error) {
	if m.findByProviderSubjectFn != nil {
		return m.findByProviderSubjectFn(ctx, provider, subject)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.byUID {
		if id.Provider == provider && id.ProviderSubject == subject {
			cp := *id
			return &cp, nil
		}
	}
	return nil, nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	deleted  []string
	createFn func(ctx context.Context, session *model.Session) error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, nil
	}
	return s, nil
}

func (m *mockSessionRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockSessionRepo) DeleteExpired(context.Context) (int64, error) { return 0, nil }

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return nil, errors.New("not configured")
}

func newTestService(oauth OAuthProvider) (*Service, *mockIdentityRepo, *mockSessionRepo) {
	idents := newMockIdentityRepo()
	sessions := newMockSessionRepo()
	svc := NewService(oauth, idents, sessions, NewHub(), ServiceConfig{
		SessionMaxAge: 3600,
		BcryptCost:    bcrypt.MinCost,
	})
	return svc, idents, sessions
}

// --- テスト ---

func TestCreateCredential_CreatesIdentityAndSession(t *testing.T) {
	svc, idents, sessions := newTestService(nil)

	res, err := svc.CreateCredential(context.Background(), "  Asha@Example.com ", "secret123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Identity.Email != "asha@example.com" {
		t.Errorf("Email = %q, want normalized", res.Identity.Email)
	}
	if res.Identity.Provider != model.ProviderPassword {
		t.Errorf("Provider = %q", res.Identity.Provider)
	}
	if !res.Created {
		t.Error("Created = false, want true")
	}
	if res.Session == nil || res.Session.UID != res.Identity.UID {
		t.Fatalf("session = %+v", res.Session)
	}
	if len(res.Session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64", len(res.Session.ID))
	}
	stored, _ := idents.FindByUID(context.Background(), res.Identity.UID)
	if stored == nil || bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret123")) != nil {
		t.Error("password hash not stored")
	}
	if _, ok := sessions.sessions[res.Session.ID]; !ok {
		t.Error("session not persisted")
	}
}

func TestCreateCredential_DuplicateEmail_ReturnsErrAccountExists(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := context.Background()

	if _, err := svc.CreateCredential(ctx, "a@example.com", "secret123"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.CreateCredential(ctx, "A@example.com", "another1")
	if !errors.Is(err, ErrAccountExists) {
		t.Errorf("err = %v, want ErrAccountExists", err)
	}
}

func TestCreateCredential_WeakPassword(t *testing.T) {
	svc, _, _ := newTestService(nil)

	_, err := svc.CreateCredential(context.Background(), "a@example.com", "12345")
	if !errors.Is(err, ErrWeakPassword) {
		t.Errorf("err = %v, want ErrWeakPassword", err)
	}
}

func TestSignInWithCredential(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := context.Background()
	created, err := svc.CreateCredential(ctx, "a@example.com", "secret123")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"正しい資格情報", "A@example.com", "secret123", nil},
		{"パスワード不一致", "a@example.com", "wrong-pass", ErrInvalidCredentials},
		{"未登録メール", "b@example.com", "secret123", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.SignInWithCredential(ctx, tt.email, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Identity.UID != created.Identity.UID {
				t.Errorf("UID = %q, want %q", res.Identity.UID, created.Identity.UID)
			}
			if res.Created {
				t.Error("Created = true on sign-in")
			}
		})
	}
}

func TestSignInWithCredential_FederatedIdentityHasNoPassword(t *testing.T) {
	svc, idents, _ := newTestService(nil)
	_ = idents.Create(context.Background(), &model.Identity{UID: "g-1", Email: "g@example.com", Provider: model.ProviderGoogle, ProviderSubject: "sub"})

	_, err := svc.SignInWithCredential(context.Background(), "g@example.com", "anything")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSignInWithFederated_NewUser_CreatesIdentity(t *testing.T) {
	oauth := &mockOAuthProvider{
		exchangeCodeFn: func(_ context.Context, code string) (*OAuthUserInfo, error) {
			if code != "valid-code" {
				t.Errorf("code = %q", code)
			}
			return &OAuthUserInfo{ProviderUserID: "sub-1", Email: "G@Example.com", Name: "Gina", Provider: model.ProviderGoogle}, nil
		},
	}
	svc, _, _ := newTestService(oauth)

	res, err := svc.SignInWithFederated(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Created || res.DisplayName != "Gina" || res.Identity.Email != "g@example.com" {
		t.Errorf("result = %+v / %+v", res, res.Identity)
	}

	// 2回目は既存identityでサインインする
	again, err := svc.SignInWithFederated(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("second sign-in: %v", err)
	}
	if again.Created || again.Identity.UID != res.Identity.UID {
		t.Errorf("second result = %+v", again)
	}
}

func TestSignInWithFederated_EmailTakenByPasswordAccount(t *testing.T) {
	oauth := &mockOAuthProvider{
		exchangeCodeFn: func(context.Context, string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{ProviderUserID: "sub-1", Email: "a@example.com", Provider: model.ProviderGoogle}, nil
		},
	}
	svc, _, _ := newTestService(oauth)
	if _, err := svc.CreateCredential(context.Background(), "a@example.com", "secret123"); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := svc.SignInWithFederated(context.Background(), "code")
	if !errors.Is(err, ErrAccountExists) {
		t.Errorf("err = %v, want ErrAccountExists", err)
	}
}

func TestSignInWithFederated_ExchangeError(t *testing.T) {
	oauth := &mockOAuthProvider{
		exchangeCodeFn: func(context.Context, string) (*OAuthUserInfo, error) {
			return nil, errors.New("invalid_grant")
		},
	}
	svc, _, _ := newTestService(oauth)

	if _, err := svc.SignInWithFederated(context.Background(), "bad"); err == nil {
		t.Error("expected error")
	}
}

func TestFederated_Disabled(t *testing.T) {
	svc, _, _ := newTestService(nil)

	if svc.FederatedEnabled() {
		t.Error("FederatedEnabled = true")
	}
	if _, err := svc.FederatedLoginURL("s"); !errors.Is(err, ErrFederatedDisabled) {
		t.Errorf("FederatedLoginURL err = %v", err)
	}
	if _, err := svc.SignInWithFederated(context.Background(), "c"); !errors.Is(err, ErrFederatedDisabled) {
		t.Errorf("SignInWithFederated err = %v", err)
	}
}

func TestFederatedLoginURL_PassesState(t *testing.T) {
	var gotState string
	svc, _, _ := newTestService(&mockOAuthProvider{
		getLoginURLFn: func(state string) string {
			gotState = state
			return "https://idp/auth"
		},
	})

	url, err := svc.FederatedLoginURL("state-xyz")
	if err != nil || url != "https://idp/auth" || gotState != "state-xyz" {
		t.Errorf("url=%q err=%v state=%q", url, err, gotState)
	}
}

func TestCurrent(t *testing.T) {
	svc, _, _ := newTestService(nil)
	ctx := context.Background()
	res, _ := svc.CreateCredential(ctx, "a@example.com", "secret123")

	got, err := svc.Current(ctx, res.Session.ID)
	if err != nil || got == nil || got.UID != res.Identity.UID {
		t.Errorf("Current = (%+v, %v)", got, err)
	}

	for _, id := range []string{"", "unknown"} {
		got, err := svc.Current(ctx, id)
		if err != nil || got != nil {
			t.Errorf("Current(%q) = (%+v, %v), want (nil, nil)", id, got, err)
		}
	}
}

func TestSignOut_DeletesSessionAndNotifiesSubscribers(t *testing.T) {
	svc, _, sessions := newTestService(nil)
	ctx := context.Background()
	res, _ := svc.CreateCredential(ctx, "a@example.com", "secret123")

	var events []*model.Identity
	unsubscribe := svc.Subscribe(ctx, res.Session.ID, func(id *model.Identity) {
		events = append(events, id)
	})
	defer unsubscribe()

	if err := svc.SignOut(ctx, res.Session.ID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (initial + sign-out)", len(events))
	}
	if events[0] == nil || events[0].UID != res.Identity.UID {
		t.Errorf("initial event = %+v", events[0])
	}
	if events[1] != nil {
		t.Errorf("sign-out event = %+v, want nil", events[1])
	}
	if len(sessions.deleted) != 1 || sessions.deleted[0] != res.Session.ID {
		t.Errorf("deleted = %v", sessions.deleted)
	}
}

func TestSignOut_EmptySessionID(t *testing.T) {
	svc, _, _ := newTestService(nil)
	if err := svc.SignOut(context.Background(), ""); err == nil {
		t.Error("expected error")
	}
}

func TestSubscribe_LookupFailure_TreatedAsSignedOut(t *testing.T) {
	svc, idents, sessions := newTestService(nil)
	sessions.sessions["s-1"] = &model.Session{ID: "s-1", UID: "u-1", ExpiresAt: time.Now().Add(time.Hour)}
	idents.findErr = errors.New("db down")

	called := 0
	unsubscribe := svc.Subscribe(context.Background(), "s-1", func(id *model.Identity) {
		called++
		if id != nil {
			t.Errorf("identity = %+v, want nil", id)
		}
	})
	defer unsubscribe()

	if called != 1 {
		t.Errorf("called = %d, want 1", called)
	}
}
