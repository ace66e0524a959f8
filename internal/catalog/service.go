// Package catalog はメンター一覧とリソース一覧の読み出しを提供する。
//
// ストアが空、またはストアの読み出しに失敗した場合は静的なシード一覧を返す。
// Redisが設定されている場合は一覧をキャッシュする。
package catalog

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/hitoshi/mentorbook/internal/cache"
	"github.com/hitoshi/mentorbook/internal/metrics"
	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/repository"
)

// キャッシュキー
const (
	mentorsCacheKey   = "catalog:mentors"
	resourcesCacheKey = "catalog:resources"
)

// DefaultCacheTTL はカタログキャッシュの既定TTL。
const DefaultCacheTTL = 5 * time.Minute

// 空き枠の生成範囲（UTC）
const (
	slotFirstHour = 9
	slotLastHour  = 18
	// MaxAvailabilityDays は一度に返す空き枠の最大日数。
	MaxAvailabilityDays = 14
)

// Service はカタログの読み出しと更新を行う。
type Service struct {
	mentorRepo   repository.MentorRepository
	resourceRepo repository.ResourceRepository
	cache        *cache.Client
	cacheTTL     time.Duration
	metrics      metrics.MetricsCollector
}

// NewService はServiceを生成する。cacheはnilでもよい。
func NewService(
	mentorRepo repository.MentorRepository,
	resourceRepo repository.ResourceRepository,
	c *cache.Client,
	cacheTTL time.Duration,
	m metrics.MetricsCollector,
) *Service {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		mentorRepo:   mentorRepo,
		resourceRepo: resourceRepo,
		cache:        c,
		cacheTTL:     cacheTTL,
		metrics:      m,
	}
}

// Mentors は全メンターを返す。
// ストアが空または読み出しに失敗した場合はシード一覧を返す。
// ストアに1件でもあればシードは混ぜない。
func (s *Service) Mentors(ctx context.Context) []model.Mentor {
	if s.cache != nil {
		var cached []model.Mentor
		hit := s.cache.GetJSON(ctx, mentorsCacheKey, &cached)
		s.metrics.RecordCacheLookup(hit)
		if hit {
			return cached
		}
	}

	mentors, err := s.mentorRepo.ListAll(ctx)
	if err != nil {
		slog.Warn("failed to list mentors, using seed data",
			slog.String("error", err.Error()),
		)
		return SeedMentors()
	}
	if len(mentors) == 0 {
		return SeedMentors()
	}

	_ = s.cache.SetJSON(ctx, mentorsCacheKey, mentors, s.cacheTTL)
	return mentors
}

// Resources は全リソースを返す。
// ストアが空または読み出しに失敗した場合はシード一覧を返す。
func (s *Service) Resources(ctx context.Context) []model.Resource {
	if s.cache != nil {
		var cached []model.Resource
		hit := s.cache.GetJSON(ctx, resourcesCacheKey, &cached)
		s.metrics.RecordCacheLookup(hit)
		if hit {
			return cached
		}
	}

	resources, err := s.resourceRepo.ListAll(ctx)
	if err != nil {
		slog.Warn("failed to list resources, using seed data",
			slog.String("error", err.Error()),
		)
		return SeedResources()
	}
	if len(resources) == 0 {
		return SeedResources()
	}

	_ = s.cache.SetJSON(ctx, resourcesCacheKey, resources, s.cacheTTL)
	return resources
}

// MentorBySlug はslugに一致するメンターを返す。見つからない場合はnilを返す。
func (s *Service) MentorBySlug(ctx context.Context, slug string) *model.Mentor {
	want := model.Slugify(slug)
	if want == "" {
		return nil
	}
	for _, m := range s.Mentors(ctx) {
		if m.Slug() == want {
			found := m
			return &found
		}
	}
	return nil
}

// CreateMentor はメンターを登録し、メンター一覧のキャッシュを破棄する。
func (s *Service) CreateMentor(ctx context.Context, mentor *model.Mentor) error {
	if err := s.mentorRepo.Create(ctx, mentor); err != nil {
		return fmt.Errorf("failed to create mentor: %w", err)
	}
	_ = s.cache.Delete(ctx, mentorsCacheKey)
	return nil
}

// InvalidateResources はリソース一覧のキャッシュを破棄する。
func (s *Service) InvalidateResources(ctx context.Context) {
	_ = s.cache.Delete(ctx, resourcesCacheKey)
}

// Availability はfromの日付からdays日分の空き枠を返す。
// 枠はslugと日付から決まる疑似乱数で生成し、同じ入力には同じ結果を返す。
func Availability(slug string, from time.Time, days int) []model.AvailabilitySlot {
	if days <= 0 {
		return []model.AvailabilitySlot{}
	}
	if days > MaxAvailabilityDays {
		days = MaxAvailabilityDays
	}

	start := from.UTC().Truncate(24 * time.Hour)
	slots := make([]model.AvailabilitySlot, 0, days*(slotLastHour-slotFirstHour))
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		r := rand.New(rand.NewPCG(daySeed(slug, day), 0))
		for h := slotFirstHour; h < slotLastHour; h++ {
			begin := day.Add(time.Duration(h) * time.Hour)
			slots = append(slots, model.AvailabilitySlot{
				Start:     begin,
				End:       begin.Add(time.Hour),
				Available: r.IntN(3) != 0,
			})
		}
	}
	return slots
}

func daySeed(slug string, day time.Time) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(slug))
	_, _ = h.Write([]byte(day.Format(time.DateOnly)))
	return h.Sum64()
}
