package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/mentorbook/internal/account"
	"github.com/hitoshi/mentorbook/internal/identity"
	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/resolver"
	"github.com/hitoshi/mentorbook/internal/storage"
)

const testAdminEmail = "admin@mentorbook.example"

// --- モック定義 ---

type mockIdentityService struct {
	signInFn          func(ctx context.Context, email, password string) (*identity.SignInResult, error)
	federatedEnabled  bool
	federatedURLFn    func(state string) (string, error)
	signInFederatedFn func(ctx context.Context, code string) (*identity.SignInResult, error)
	signOutFn         func(ctx context.Context, sessionID string) error
	currentFn         func(ctx context.Context, sessionID string) (*model.Identity, error)
}

func (m *mockIdentityService) SignInWithCredential(ctx context.Context, email, password string) (*identity.SignInResult, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, identity.ErrInvalidCredentials
}

func (m *mockIdentityService) FederatedEnabled() bool { return m.federatedEnabled }

func (m *mockIdentityService) FederatedLoginURL(state string) (string, error) {
	if m.federatedURLFn != nil {
		return m.federatedURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state, nil
}

func (m *mockIdentityService) SignInWithFederated(ctx context.Context, code string) (*identity.SignInResult, error) {
	if m.signInFederatedFn != nil {
		return m.signInFederatedFn(ctx, code)
	}
	return nil, identity.ErrFederatedDisabled
}

func (m *mockIdentityService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockIdentityService) Current(ctx context.Context, sessionID string) (*model.Identity, error) {
	if m.currentFn != nil {
		return m.currentFn(ctx, sessionID)
	}
	return nil, nil
}

type mockAccountService struct {
	signUpFn            func(ctx context.Context, in account.SignUpInput) (*account.SignUpResult, error)
	registerFederatedFn func(ctx context.Context, signIn *identity.SignInResult, role model.Role) (*account.SignUpResult, error)
	onboardMentorFn     func(ctx context.Context, in account.OnboardMentorInput) (*model.Mentor, error)
}

func (m *mockAccountService) SignUp(ctx context.Context, in account.SignUpInput) (*account.SignUpResult, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAccountService) RegisterFederated(ctx context.Context, signIn *identity.SignInResult, role model.Role) (*account.SignUpResult, error) {
	if m.registerFederatedFn != nil {
		return m.registerFederatedFn(ctx, signIn, role)
	}
	return &account.SignUpResult{SignIn: signIn}, nil
}

func (m *mockAccountService) OnboardMentor(ctx context.Context, in account.OnboardMentorInput) (*model.Mentor, error) {
	if m.onboardMentorFn != nil {
		return m.onboardMentorFn(ctx, in)
	}
	return nil, nil
}

// mockRecords はuidをキーにしたユーザーレコードのインメモリストア。
type mockRecords struct {
	mu      sync.Mutex
	records map[string]*model.UserRecord
	err     error
	calls   atomic.Int32
}

func newMockRecords(records ...*model.UserRecord) *mockRecords {
	m := &mockRecords{records: make(map[string]*model.UserRecord)}
	for _, r := range records {
		m.records[r.UID] = r
	}
	return m
}

func (m *mockRecords) FindByUID(_ context.Context, uid string) (*model.UserRecord, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.records[uid], nil
}

func (m *mockRecords) put(r *model.UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.UID] = r
}

// fakeSessions はセッションIDからidentityを引くAuthStateSource兼SignOuter。
type fakeSessions struct {
	mu         sync.Mutex
	identities map[string]*model.Identity
	signedOut  []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{identities: make(map[string]*model.Identity)}
}

func (f *fakeSessions) login(sessionID string, ident *model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[sessionID] = ident
}

func (f *fakeSessions) Subscribe(_ context.Context, sessionID string, fn func(*model.Identity)) func() {
	f.mu.Lock()
	ident := f.identities[sessionID]
	f.mu.Unlock()
	fn(ident)
	return func() {}
}

func (f *fakeSessions) SignOut(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.identities, sessionID)
	f.signedOut = append(f.signedOut, sessionID)
	return nil
}

func (f *fakeSessions) Current(_ context.Context, sessionID string) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identities[sessionID], nil
}

func (f *fakeSessions) signedOutIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.signedOut...)
}

func newTestResolver(sessions *fakeSessions, records *mockRecords) *resolver.Resolver {
	return resolver.New(sessions, records, sessions, nil, resolver.Config{AdminEmail: testAdminEmail})
}

type mockCatalog struct {
	mentors   []model.Mentor
	resources []model.Resource
}

func (m *mockCatalog) Mentors(context.Context) []model.Mentor     { return m.mentors }
func (m *mockCatalog) Resources(context.Context) []model.Resource { return m.resources }

func (m *mockCatalog) MentorBySlug(_ context.Context, slug string) *model.Mentor {
	for _, mentor := range m.mentors {
		if mentor.Slug() == model.Slugify(slug) {
			found := mentor
			return &found
		}
	}
	return nil
}

type mockPresigner struct {
	presignFn func(ctx context.Context, uid, contentType string) (*storage.PresignedUpload, error)
}

func (m *mockPresigner) PresignImageUpload(ctx context.Context, uid, contentType string) (*storage.PresignedUpload, error) {
	return m.presignFn(ctx, uid, contentType)
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) SanitizeBio(raw string) string { return strings.TrimSpace(raw) }

// --- ヘルパー ---

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withSessionCookie(req *http.Request, sessionID string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	return req
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
