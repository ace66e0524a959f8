// Package dashboard はメンターダッシュボードのプロフィール・コース・売上履歴を扱う。
//
// データはプロセス内のモック状態で、再起動すると初期値に戻る。
package dashboard

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mentorbook/internal/model"
)

// ErrCourseNotFound はコースが存在しないことを示す。
var ErrCourseNotFound = errors.New("course not found")

// BioSanitizer は自己紹介のHTMLを安全化する。
type BioSanitizer interface {
	SanitizeBio(raw string) string
}

// ProfileUpdate はプロフィールの更新内容。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Name       *string
	Title      *string
	Company    *string
	Bio        *string
	Expertise  []string
	HourlyRate *float64
	ImageURL   *string
}

// CourseInput はコース作成の入力。
type CourseInput struct {
	Title       string
	Description string
	Price       float64
}

// mentorState は1メンター分のダッシュボード状態。
type mentorState struct {
	profile      model.MentorProfile
	courses      []model.Course
	transactions []model.Transaction
}

// Store はメンターごとのダッシュボード状態を保持する。
type Store struct {
	mu        sync.Mutex
	mentors   map[string]*mentorState
	sanitizer BioSanitizer
	now       func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(sanitizer BioSanitizer) *Store {
	return &Store{
		mentors:   make(map[string]*mentorState),
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Profile はプロフィールを返す。初回アクセス時はユーザーレコードから初期化する。
func (s *Store) Profile(record *model.UserRecord) model.MentorProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneProfile(s.stateFor(record).profile)
}

// UpdateProfile はプロフィールを更新し、更新後の内容を返す。
func (s *Store) UpdateProfile(record *model.UserRecord, upd ProfileUpdate) model.MentorProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &s.stateFor(record).profile
	if upd.Name != nil {
		if name := strings.TrimSpace(*upd.Name); name != "" {
			p.Name = name
		}
	}
	if upd.Title != nil {
		p.Title = strings.TrimSpace(*upd.Title)
	}
	if upd.Company != nil {
		p.Company = strings.TrimSpace(*upd.Company)
	}
	if upd.Bio != nil {
		p.Bio = s.sanitizer.SanitizeBio(*upd.Bio)
	}
	if upd.Expertise != nil {
		p.Expertise = slices.Clone(upd.Expertise)
	}
	if upd.HourlyRate != nil && *upd.HourlyRate >= 0 {
		p.HourlyRate = *upd.HourlyRate
	}
	if upd.ImageURL != nil {
		p.ImageURL = *upd.ImageURL
		if p.ImageURL == "" {
			p.ImageURL = model.DefaultMentorImage
		}
	}
	return cloneProfile(*p)
}

// Courses はコース一覧を作成順に返す。
func (s *Store) Courses(record *model.UserRecord) []model.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.stateFor(record).courses)
}

// AddCourse はコースを追加する。
func (s *Store) AddCourse(record *model.UserRecord, in CourseInput) model.Course {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(record)
	c := model.Course{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		CreatedAt:   s.now(),
	}
	st.courses = append(st.courses, c)
	return c
}

// DeleteCourse はコースを削除する。存在しない場合はErrCourseNotFoundを返す。
func (s *Store) DeleteCourse(record *model.UserRecord, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(record)
	i := slices.IndexFunc(st.courses, func(c model.Course) bool { return c.ID == courseID })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrCourseNotFound, courseID)
	}
	st.courses = slices.Delete(st.courses, i, i+1)
	return nil
}

// Transactions は売上履歴を新しい順に返す。
func (s *Store) Transactions(record *model.UserRecord) []model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.stateFor(record).transactions)
}

// stateFor はuidの状態を返す。存在しない場合は初期状態を作る。
// 呼び出し側でロックを保持していること。
func (s *Store) stateFor(record *model.UserRecord) *mentorState {
	if st, ok := s.mentors[record.UID]; ok {
		return st
	}
	st := &mentorState{
		profile: model.MentorProfile{
			UID:       record.UID,
			Name:      record.Name,
			Expertise: []string{},
			ImageURL:  model.DefaultMentorImage,
		},
		courses:      []model.Course{},
		transactions: seedTransactions(s.now()),
	}
	s.mentors[record.UID] = st
	return st
}

func seedTransactions(now time.Time) []model.Transaction {
	day := 24 * time.Hour
	return []model.Transaction{
		{ID: "t-003", MenteeName: "Rohan Gupta", Description: "Mock interview (60 min)", Amount: 1500, Status: model.TransactionPending, Date: now.Add(-1 * day)},
		{ID: "t-002", MenteeName: "Aisha Khan", Description: "Resume review", Amount: 950, Status: model.TransactionCompleted, Date: now.Add(-4 * day)},
		{ID: "t-001", MenteeName: "Nikhil Verma", Description: "Career guidance session", Amount: 1200, Status: model.TransactionRefunded, Date: now.Add(-9 * day)},
	}
}

func cloneProfile(p model.MentorProfile) model.MentorProfile {
	p.Expertise = slices.Clone(p.Expertise)
	return p
}
