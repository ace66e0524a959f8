package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mentorbook/internal/catalog"
	"github.com/hitoshi/mentorbook/internal/filter"
	"github.com/hitoshi/mentorbook/internal/middleware"
	"github.com/hitoshi/mentorbook/internal/model"
)

// defaultAvailabilityDays はdays未指定時に返す空き枠の日数。
const defaultAvailabilityDays = 7

// CatalogService はカタログハンドラーが必要とするサービスインターフェース。
type CatalogService interface {
	Mentors(ctx context.Context) []model.Mentor
	Resources(ctx context.Context) []model.Resource
	MentorBySlug(ctx context.Context, slug string) *model.Mentor
}

// CatalogHandler はメンター一覧・リソース一覧のHTTPハンドラー。
type CatalogHandler struct {
	service CatalogService
	now     func() time.Time
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogService) *CatalogHandler {
	return &CatalogHandler{service: service, now: time.Now}
}

// listResponse は絞り込み結果のレスポンス。
type listResponse[T any] struct {
	Items   []T    `json:"items"`
	Total   int    `json:"total"`
	Count   int    `json:"count"`
	Sort    string `json:"sort"`
	Neutral bool   `json:"neutral"`
}

type mentorResponse struct {
	model.Mentor
	Slug string `json:"slug"`
}

type availabilityResponse struct {
	Slug  string                   `json:"slug"`
	From  string                   `json:"from"`
	Days  int                      `json:"days"`
	Slots []model.AvailabilitySlot `json:"slots"`
}

// ListMentors はメンター一覧を絞り込み・並び替えて返す。
// GET /api/mentors?q=&tag=&tags=&min_rating=&price_min=&price_max=&sort=&reset=1
func (h *CatalogHandler) ListMentors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria, err := mentorCriteria(q)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	view := filter.NewView(h.service.Mentors(r.Context()))
	applyQuery(view, q, criteria)

	visible := view.Visible()
	items := make([]mentorResponse, 0, len(visible))
	for _, m := range visible {
		items = append(items, mentorResponse{Mentor: m, Slug: m.Slug()})
	}
	middleware.WriteJSON(w, http.StatusOK, listResponse[mentorResponse]{
		Items:   items,
		Total:   view.Total(),
		Count:   len(items),
		Sort:    string(view.SortKey()),
		Neutral: view.Criteria().IsNeutral(),
	})
}

// GetMentor はslugに一致するメンターのプロフィールを返す。
// GET /api/mentors/{slug}
func (h *CatalogHandler) GetMentor(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	mentor := h.service.MentorBySlug(r.Context(), slug)
	if mentor == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewMentorNotFoundError(slug))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, mentorResponse{Mentor: *mentor, Slug: mentor.Slug()})
}

// GetAvailability はメンターの空き枠を返す。
// GET /api/mentors/{slug}/availability?from=YYYY-MM-DD&days=N
func (h *CatalogHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	mentor := h.service.MentorBySlug(r.Context(), slug)
	if mentor == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewMentorNotFoundError(slug))
		return
	}

	from := h.now().UTC()
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.DateOnly, v)
		if err != nil {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("from"))
			return
		}
		from = parsed
	}

	days := defaultAvailabilityDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("days"))
			return
		}
		days = min(n, catalog.MaxAvailabilityDays)
	}

	middleware.WriteJSON(w, http.StatusOK, availabilityResponse{
		Slug:  mentor.Slug(),
		From:  from.Format(time.DateOnly),
		Days:  days,
		Slots: catalog.Availability(mentor.Slug(), from, days),
	})
}

// ListResources はリソース一覧を絞り込み・並び替えて返す。
// GET /api/resources?q=&category=&sort=&reset=1
func (h *CatalogHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	criteria := filter.Neutral()
	criteria.Search = q.Get("q")
	criteria.Tags = multiValue(q, "category", "categories")

	view := filter.NewView(h.service.Resources(r.Context()))
	applyQuery(view, q, criteria)

	items := view.Visible()
	middleware.WriteJSON(w, http.StatusOK, listResponse[model.Resource]{
		Items:   items,
		Total:   view.Total(),
		Count:   len(items),
		Sort:    string(view.SortKey()),
		Neutral: view.Criteria().IsNeutral(),
	})
}

// applyQuery は条件と並び順をViewに反映する。reset=1の場合はすべて既定値に戻す。
func applyQuery[T filter.Item](view *filter.View[T], q url.Values, criteria filter.Criteria) {
	if q.Get("reset") == "1" {
		view.Reset()
		return
	}
	view.Update(func(c *filter.Criteria) { *c = criteria })
	if s := q.Get("sort"); s != "" {
		view.SetSort(filter.ParseSortKey(s))
	}
}

// mentorCriteria はクエリパラメータからメンターの絞り込み条件を組み立てる。
// 負の価格は0に、評価は0から5の範囲に丸める。
func mentorCriteria(q url.Values) (filter.Criteria, error) {
	c := filter.Neutral()
	c.Search = q.Get("q")
	c.Tags = multiValue(q, "tag", "tags")

	if v := q.Get("min_rating"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, errInvalidParam("min_rating")
		}
		f = min(max(f, 0), 5)
		c.MinRating = &f
	}
	if v := q.Get("price_min"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, errInvalidParam("price_min")
		}
		c.PriceMin = max(f, 0)
	}
	if v := q.Get("price_max"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, errInvalidParam("price_max")
		}
		f = max(f, 0)
		c.PriceMax = &f
	}
	return c, nil
}

// multiValue は繰り返し指定とカンマ区切り指定の両方からタグを集める。
func multiValue(q url.Values, single, list string) []string {
	var out []string
	for _, v := range q[single] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	for _, v := range q[list] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return string(e) }
