package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hitoshi/mentorbook/internal/cache"
	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/repository"
)

// --- モック定義 ---

type mockMentorRepo struct {
	listAllFn func(ctx context.Context) ([]model.Mentor, error)
	createFn  func(ctx context.Context, mentor *model.Mentor) error
	calls     int
}

func (m *mockMentorRepo) ListAll(ctx context.Context) ([]model.Mentor, error) {
	m.calls++
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockMentorRepo) Create(ctx context.Context, mentor *model.Mentor) error {
	if m.createFn != nil {
		return m.createFn(ctx, mentor)
	}
	return nil
}

type mockResourceRepo struct {
	listAllFn func(ctx context.Context) ([]model.Resource, error)
	calls     int
}

func (m *mockResourceRepo) ListAll(ctx context.Context) ([]model.Resource, error) {
	m.calls++
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockResourceRepo) Upsert(_ context.Context, _ *model.Resource) (bool, error) {
	return false, nil
}

var (
	_ repository.MentorRepository   = (*mockMentorRepo)(nil)
	_ repository.ResourceRepository = (*mockResourceRepo)(nil)
)

type spyMetrics struct {
	metrics.Nop
	hits, misses int
}

func (s *spyMetrics) RecordCacheLookup(hit bool) {
	if hit {
		s.hits++
		return
	}
	s.misses++
}

func newCache(t *testing.T) (*cache.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

// --- Mentors ---

func TestService_Mentors_FromStore(t *testing.T) {
	stored := []model.Mentor{{ID: "x-1", Name: "Stored Mentor", Rating: 4.0}}
	repo := &mockMentorRepo{listAllFn: func(_ context.Context) ([]model.Mentor, error) { return stored, nil }}
	svc := NewService(repo, &mockResourceRepo{}, nil, 0, nil)

	got := svc.Mentors(context.Background())
	if len(got) != 1 || got[0].ID != "x-1" {
		t.Errorf("Mentors = %+v, want stored mentor", got)
	}
	// 最初のメンター登録後はシードのサンプルを表示しない
	for _, seed := range SeedMentors() {
		if svc.MentorBySlug(context.Background(), seed.Slug()) != nil {
			t.Errorf("seed mentor %q should be hidden once the store has rows", seed.Slug())
		}
	}
}

func TestService_Mentors_EmptyStoreFallsBackToSeed(t *testing.T) {
	svc := NewService(&mockMentorRepo{}, &mockResourceRepo{}, nil, 0, nil)

	got := svc.Mentors(context.Background())
	if len(got) != len(SeedMentors()) {
		t.Errorf("len(Mentors) = %d, want %d", len(got), len(SeedMentors()))
	}
}

func TestService_Mentors_StoreErrorFallsBackToSeed(t *testing.T) {
	repo := &mockMentorRepo{listAllFn: func(_ context.Context) ([]model.Mentor, error) {
		return nil, errors.New("connection refused")
	}}
	svc := NewService(repo, &mockResourceRepo{}, nil, 0, nil)

	got := svc.Mentors(context.Background())
	if len(got) != len(SeedMentors()) {
		t.Errorf("len(Mentors) = %d, want %d", len(got), len(SeedMentors()))
	}
}

func TestService_Mentors_CachesStoreResult(t *testing.T) {
	c, _ := newCache(t)
	stored := []model.Mentor{{ID: "x-1", Name: "Stored Mentor", Expertise: []string{"Go"}}}
	repo := &mockMentorRepo{listAllFn: func(_ context.Context) ([]model.Mentor, error) { return stored, nil }}
	spy := &spyMetrics{}
	svc := NewService(repo, &mockResourceRepo{}, c, time.Minute, spy)

	first := svc.Mentors(context.Background())
	second := svc.Mentors(context.Background())

	if repo.calls != 1 {
		t.Errorf("repository called %d times, want 1", repo.calls)
	}
	if len(second) != 1 || second[0].ID != first[0].ID || second[0].Expertise[0] != "Go" {
		t.Errorf("cached Mentors = %+v", second)
	}
	if spy.misses != 1 || spy.hits != 1 {
		t.Errorf("cache lookups: hits=%d misses=%d, want 1/1", spy.hits, spy.misses)
	}
}

func TestService_Mentors_SeedIsNotCached(t *testing.T) {
	c, mr := newCache(t)
	svc := NewService(&mockMentorRepo{}, &mockResourceRepo{}, c, time.Minute, nil)

	_ = svc.Mentors(context.Background())

	if mr.Exists("mentorbook:" + mentorsCacheKey) {
		t.Error("seed fallback should not be written to the cache")
	}
}

func TestService_Mentors_CacheExpires(t *testing.T) {
	c, mr := newCache(t)
	repo := &mockMentorRepo{listAllFn: func(_ context.Context) ([]model.Mentor, error) {
		return []model.Mentor{{ID: "x-1", Name: "A"}}, nil
	}}
	svc := NewService(repo, &mockResourceRepo{}, c, time.Minute, nil)

	_ = svc.Mentors(context.Background())
	mr.FastForward(2 * time.Minute)
	_ = svc.Mentors(context.Background())

	if repo.calls != 2 {
		t.Errorf("repository called %d times, want 2 after TTL", repo.calls)
	}
}

func TestService_Mentors_RedisDown(t *testing.T) {
	c, mr := newCache(t)
	mr.Close()
	repo := &mockMentorRepo{listAllFn: func(_ context.Context) ([]model.Mentor, error) {
		return []model.Mentor{{ID: "x-1", Name: "A"}}, nil
	}}
	svc := NewService(repo, &mockResourceRepo{}, c, time.Minute, nil)

	got := svc.Mentors(context.Background())
	if len(got) != 1 {
		t.Errorf("Mentors should still be served from the store, got %+v", got)
	}
}

// --- Resources ---

func TestService_Resources(t *testing.T) {
	tests := []struct {
		name    string
		listFn  func(ctx context.Context) ([]model.Resource, error)
		wantLen int
	}{
		{
			name: "ストアの内容",
			listFn: func(_ context.Context) ([]model.Resource, error) {
				return []model.Resource{{ID: "r-x", Title: "T", Category: "General"}}, nil
			},
			wantLen: 1,
		},
		{
			name:    "空ならシード",
			listFn:  func(_ context.Context) ([]model.Resource, error) { return []model.Resource{}, nil },
			wantLen: len(SeedResources()),
		},
		{
			name:    "エラーならシード",
			listFn:  func(_ context.Context) ([]model.Resource, error) { return nil, errors.New("boom") },
			wantLen: len(SeedResources()),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&mockMentorRepo{}, &mockResourceRepo{listAllFn: tt.listFn}, nil, 0, nil)
			if got := svc.Resources(context.Background()); len(got) != tt.wantLen {
				t.Errorf("len(Resources) = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestService_InvalidateResources(t *testing.T) {
	c, _ := newCache(t)
	repo := &mockResourceRepo{listAllFn: func(_ context.Context) ([]model.Resource, error) {
		return []model.Resource{{ID: "r-x", Title: "T"}}, nil
	}}
	svc := NewService(&mockMentorRepo{}, repo, c, time.Minute, nil)

	_ = svc.Resources(context.Background())
	svc.InvalidateResources(context.Background())
	_ = svc.Resources(context.Background())

	if repo.calls != 2 {
		t.Errorf("repository called %d times, want 2 after invalidation", repo.calls)
	}
}

// --- MentorBySlug ---

func TestService_MentorBySlug(t *testing.T) {
	svc := NewService(&mockMentorRepo{}, &mockResourceRepo{}, nil, 0, nil)

	tests := []struct {
		slug   string
		wantID string
	}{
		{slug: "priya-sharma", wantID: "m-001"},
		{slug: "Priya Sharma", wantID: "m-001"},
		{slug: "karan-malhotra", wantID: "m-008"},
		{slug: "nobody", wantID: ""},
		{slug: "", wantID: ""},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			got := svc.MentorBySlug(context.Background(), tt.slug)
			if tt.wantID == "" {
				if got != nil {
					t.Errorf("expected nil, got %+v", got)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("MentorBySlug(%q) = %+v, want ID %s", tt.slug, got, tt.wantID)
			}
		})
	}
}

// --- CreateMentor ---

func TestService_CreateMentor_InvalidatesCache(t *testing.T) {
	c, mr := newCache(t)
	var created *model.Mentor
	repo := &mockMentorRepo{
		listAllFn: func(_ context.Context) ([]model.Mentor, error) {
			return []model.Mentor{{ID: "x-1", Name: "A"}}, nil
		},
		createFn: func(_ context.Context, m *model.Mentor) error {
			created = m
			return nil
		},
	}
	svc := NewService(repo, &mockResourceRepo{}, c, time.Minute, nil)
	_ = svc.Mentors(context.Background())

	err := svc.CreateMentor(context.Background(), &model.Mentor{ID: "x-2", Name: "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil || created.ID != "x-2" {
		t.Errorf("repository Create not called with mentor")
	}
	if mr.Exists("mentorbook:" + mentorsCacheKey) {
		t.Error("mentor cache should be invalidated")
	}
}

func TestService_CreateMentor_Error(t *testing.T) {
	repoErr := errors.New("insert failed")
	repo := &mockMentorRepo{createFn: func(_ context.Context, _ *model.Mentor) error { return repoErr }}
	svc := NewService(repo, &mockResourceRepo{}, nil, 0, nil)

	err := svc.CreateMentor(context.Background(), &model.Mentor{ID: "x"})
	if !errors.Is(err, repoErr) {
		t.Errorf("error = %v, want wrapped %v", err, repoErr)
	}
}

// --- Availability ---

func TestAvailability_Deterministic(t *testing.T) {
	from := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

	a := Availability("priya-sharma", from, 3)
	b := Availability("priya-sharma", from, 3)

	if len(a) != 3*(slotLastHour-slotFirstHour) {
		t.Fatalf("len = %d, want %d", len(a), 3*(slotLastHour-slotFirstHour))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("slot %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestAvailability_SameDayIndependentOfStart(t *testing.T) {
	// 同じ日付の枠は開始日に依存しない
	d1 := Availability("rahul-mehta", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 2)
	d2 := Availability("rahul-mehta", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), 1)

	perDay := slotLastHour - slotFirstHour
	for i := 0; i < perDay; i++ {
		if d1[perDay+i] != d2[i] {
			t.Fatalf("slot %d differs between windows", i)
		}
	}
}

func TestAvailability_SlotShape(t *testing.T) {
	from := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	slots := Availability("priya-sharma", from, 1)

	first := slots[0]
	if first.Start != time.Date(2026, 3, 2, slotFirstHour, 0, 0, 0, time.UTC) {
		t.Errorf("first slot start = %v", first.Start)
	}
	for _, s := range slots {
		if s.End.Sub(s.Start) != time.Hour {
			t.Errorf("slot length = %v, want 1h", s.End.Sub(s.Start))
		}
	}
}

func TestAvailability_Bounds(t *testing.T) {
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	if got := Availability("x", from, 0); len(got) != 0 {
		t.Errorf("days=0: len = %d, want 0", len(got))
	}
	if got := Availability("x", from, -3); len(got) != 0 {
		t.Errorf("days<0: len = %d, want 0", len(got))
	}
	got := Availability("x", from, 100)
	if len(got) != MaxAvailabilityDays*(slotLastHour-slotFirstHour) {
		t.Errorf("days clamped: len = %d", len(got))
	}
}
