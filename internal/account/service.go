// Package account はサインアップとメンター登録（資格情報とユーザーレコードの作成）を提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/mentorbook/internal/events"
	"github.com/hitoshi/mentorbook/internal/identity"
	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/repository"
)

// ErrInvalidRole は未知のロールが指定されたことを示す。
var ErrInvalidRole = errors.New("invalid role")

// CredentialIssuer はIdP境界のうちアカウント作成に使う操作。
type CredentialIssuer interface {
	CreateCredential(ctx context.Context, email, password string) (*identity.SignInResult, error)
	SignOut(ctx context.Context, sessionID string) error
}

// MentorCreator はメンター一覧への登録を行う。
type MentorCreator interface {
	CreateMentor(ctx context.Context, mentor *model.Mentor) error
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Name     string
	Email    string
	Password string
	Role     model.Role
}

// SignUpResult はサインアップの結果。
// RecordWrittenがfalseの場合、ユーザーは認証済みだが未登録の状態になる。
type SignUpResult struct {
	SignIn        *identity.SignInResult
	Record        *model.UserRecord
	RecordWritten bool
}

// OnboardMentorInput は管理者によるメンター登録の入力。
type OnboardMentorInput struct {
	Name       string
	Email      string
	Password   string
	Title      string
	Company    string
	Expertise  []string
	Bio        string
	HourlyRate float64
	ImageURL   string
	PaymentURL string
}

// Service はアカウント作成のビジネスロジックを提供する。
type Service struct {
	issuer    CredentialIssuer
	records   repository.UserRecordRepository
	mentors   MentorCreator
	publisher events.Publisher
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	issuer CredentialIssuer,
	records repository.UserRecordRepository,
	mentors MentorCreator,
	publisher events.Publisher,
	m metrics.MetricsCollector,
) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		issuer:    issuer,
		records:   records,
		mentors:   mentors,
		publisher: publisher,
		metrics:   m,
	}
}

// SignUp は資格情報を作成し、続けてユーザーレコードを書き込む。
// レコードの書き込みに失敗してもエラーは返さず、発行済みのセッションを返す。
// その場合は次回のロール解決で未登録として扱われる。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*SignUpResult, error) {
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}

	// 1. 資格情報を作成（セッションも発行される）
	signIn, err := s.issuer.CreateCredential(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	// 2. ユーザーレコードを書き込む
	record := &model.UserRecord{
		UID:       signIn.Identity.UID,
		Name:      strings.TrimSpace(in.Name),
		Email:     signIn.Identity.Email,
		Role:      in.Role,
		CreatedAt: time.Now(),
	}
	written := s.writeRecord(ctx, record)

	// 3. 登録イベントを発行
	s.publishRegistered(ctx, record, written)

	return &SignUpResult{SignIn: signIn, Record: record, RecordWritten: written}, nil
}

// RegisterFederated は外部IdP経由で新規作成されたidentityのユーザーレコードを書き込む。
// 既にレコードが存在する場合は何もしない。
func (s *Service) RegisterFederated(ctx context.Context, signIn *identity.SignInResult, role model.Role) (*SignUpResult, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	existing, err := s.records.FindByUID(ctx, signIn.Identity.UID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user record: %w", err)
	}
	if existing != nil {
		return &SignUpResult{SignIn: signIn, Record: existing, RecordWritten: false}, nil
	}

	record := &model.UserRecord{
		UID:       signIn.Identity.UID,
		Name:      signIn.DisplayName,
		Email:     signIn.Identity.Email,
		Role:      role,
		CreatedAt: time.Now(),
	}
	written := s.writeRecord(ctx, record)
	s.publishRegistered(ctx, record, written)

	return &SignUpResult{SignIn: signIn, Record: record, RecordWritten: written}, nil
}

// OnboardMentor は管理者がメンターのアカウントとメンター情報を登録する。
// 新規メンター用に発行されたセッションは破棄する。
func (s *Service) OnboardMentor(ctx context.Context, in OnboardMentorInput) (*model.Mentor, error) {
	// 1. 資格情報を作成
	signIn, err := s.issuer.CreateCredential(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	if err := s.issuer.SignOut(ctx, signIn.Session.ID); err != nil {
		slog.WarnContext(ctx, "failed to discard onboarding session",
			slog.String("uid", signIn.Identity.UID),
			slog.String("error", err.Error()),
		)
	}

	// 2. メンターとしてユーザーレコードを作成
	record := &model.UserRecord{
		UID:       signIn.Identity.UID,
		Name:      strings.TrimSpace(in.Name),
		Email:     signIn.Identity.Email,
		Role:      model.RoleMentor,
		CreatedAt: time.Now(),
	}
	if err := s.records.Create(ctx, record); err != nil {
		s.metrics.RecordSignup(string(model.RoleMentor), false)
		return nil, fmt.Errorf("failed to create mentor record: %w", err)
	}
	s.metrics.RecordSignup(string(model.RoleMentor), true)

	// 3. メンター一覧に登録
	mentor := &model.Mentor{
		ID:         signIn.Identity.UID,
		Name:       record.Name,
		Title:      strings.TrimSpace(in.Title),
		Company:    strings.TrimSpace(in.Company),
		Expertise:  normalizeTags(in.Expertise),
		Bio:        in.Bio,
		ImageURL:   in.ImageURL,
		HourlyRate: in.HourlyRate,
		PaymentURL: in.PaymentURL,
	}
	model.ApplyMentorDefaults(mentor)
	if err := s.mentors.CreateMentor(ctx, mentor); err != nil {
		return nil, fmt.Errorf("failed to register mentor: %w", err)
	}

	// 4. イベントを発行
	if err := s.publisher.PublishMentorOnboarded(ctx, events.MentorOnboardedEvent{
		UID:         mentor.ID,
		Name:        mentor.Name,
		Slug:        mentor.Slug(),
		OnboardedAt: time.Now(),
	}); err != nil {
		slog.WarnContext(ctx, "mentor onboarded event not published",
			slog.String("uid", mentor.ID),
			slog.String("error", err.Error()),
		)
	}

	slog.InfoContext(ctx, "mentor onboarded",
		slog.String("uid", mentor.ID),
		slog.String("slug", mentor.Slug()),
	)
	return mentor, nil
}

// writeRecord はレコードを書き込み、成功したかを返す。失敗はログに残すのみで再試行しない。
func (s *Service) writeRecord(ctx context.Context, record *model.UserRecord) bool {
	if err := s.records.Create(ctx, record); err != nil {
		slog.ErrorContext(ctx, "failed to write user record after credential creation",
			slog.String("uid", record.UID),
			slog.String("role", string(record.Role)),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordSignup(string(record.Role), false)
		return false
	}
	s.metrics.RecordSignup(string(record.Role), true)
	slog.InfoContext(ctx, "user registered",
		slog.String("uid", record.UID),
		slog.String("role", string(record.Role)),
	)
	return true
}

func (s *Service) publishRegistered(ctx context.Context, record *model.UserRecord, written bool) {
	err := s.publisher.PublishUserRegistered(ctx, events.UserRegisteredEvent{
		UID:           record.UID,
		Email:         record.Email,
		Role:          string(record.Role),
		RecordWritten: written,
		RegisteredAt:  record.CreatedAt,
	})
	if err != nil {
		slog.WarnContext(ctx, "user registered event not published",
			slog.String("uid", record.UID),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
