package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/mentorbook/internal/dashboard"
	"github.com/hitoshi/mentorbook/internal/middleware"
	"github.com/hitoshi/mentorbook/internal/model"
	"github.com/hitoshi/mentorbook/internal/storage"
)

type recordContextKey struct{}

// DashboardStore はメンターダッシュボードの状態を保持するストアのインターフェース。
type DashboardStore interface {
	Profile(record *model.UserRecord) model.MentorProfile
	UpdateProfile(record *model.UserRecord, upd dashboard.ProfileUpdate) model.MentorProfile
	Courses(record *model.UserRecord) []model.Course
	AddCourse(record *model.UserRecord, in dashboard.CourseInput) model.Course
	DeleteCourse(record *model.UserRecord, courseID string) error
	Transactions(record *model.UserRecord) []model.Transaction
}

// ImagePresigner は画像アップロード用の署名付きURLを発行する。
type ImagePresigner interface {
	PresignImageUpload(ctx context.Context, uid, contentType string) (*storage.PresignedUpload, error)
}

// DashboardHandler はメンターダッシュボードのHTTPハンドラー。
type DashboardHandler struct {
	records   RecordFinder
	store     DashboardStore
	presigner ImagePresigner
	validate  *validator.Validate
}

// NewDashboardHandler はDashboardHandlerを生成する。
// presignerがnilの場合、画像アップロードURLの発行は503を返す。
func NewDashboardHandler(records RecordFinder, store DashboardStore, presigner ImagePresigner) *DashboardHandler {
	return &DashboardHandler{
		records:   records,
		store:     store,
		presigner: presigner,
		validate:  newValidator(),
	}
}

type updateProfileRequest struct {
	Name       *string  `json:"name" validate:"omitempty,max=100"`
	Title      *string  `json:"title" validate:"omitempty,max=200"`
	Company    *string  `json:"company" validate:"omitempty,max=200"`
	Bio        *string  `json:"bio" validate:"omitempty,max=5000"`
	Expertise  []string `json:"expertise" validate:"omitempty,max=20,dive,max=100"`
	HourlyRate *float64 `json:"hourly_rate" validate:"omitempty,gte=0"`
	ImageURL   *string  `json:"image" validate:"omitempty,max=2048"`
}

type createCourseRequest struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=5000"`
	Price       float64 `json:"price" validate:"gte=0"`
}

type imageUploadRequest struct {
	ContentType string `json:"content_type" validate:"required,oneof=image/jpeg image/png image/webp"`
}

// RequireMentor はメンターとして登録済みのユーザー以外を拒否するミドルウェア。
// RequireSessionの内側で使う。
func (h *DashboardHandler) RequireMentor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := middleware.UIDFromContext(r.Context())
		if uid == "" {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}

		record, err := h.records.FindByUID(r.Context(), uid)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to find user record",
				slog.String("uid", uid),
				slog.String("error", err.Error()),
			)
			middleware.WriteInternalServerError(w)
			return
		}
		if record == nil || record.Role != model.RoleMentor {
			middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}

		ctx := context.WithValue(r.Context(), recordContextKey{}, record)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recordFromContext(ctx context.Context) *model.UserRecord {
	rec, _ := ctx.Value(recordContextKey{}).(*model.UserRecord)
	return rec
}

// GetProfile はプロフィールを返す。
// GET /api/dashboard/profile
func (h *DashboardHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.store.Profile(recordFromContext(r.Context())))
}

// UpdateProfile はプロフィールを部分更新する。
// PUT /api/dashboard/profile
func (h *DashboardHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	profile := h.store.UpdateProfile(recordFromContext(r.Context()), dashboard.ProfileUpdate{
		Name:       req.Name,
		Title:      req.Title,
		Company:    req.Company,
		Bio:        req.Bio,
		Expertise:  req.Expertise,
		HourlyRate: req.HourlyRate,
		ImageURL:   req.ImageURL,
	})
	middleware.WriteJSON(w, http.StatusOK, profile)
}

// ListCourses はコース一覧を返す。
// GET /api/dashboard/courses
func (h *DashboardHandler) ListCourses(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.store.Courses(recordFromContext(r.Context())))
}

// CreateCourse はコースを追加する。
// POST /api/dashboard/courses
func (h *DashboardHandler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	course := h.store.AddCourse(recordFromContext(r.Context()), dashboard.CourseInput{
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
	})
	middleware.WriteJSON(w, http.StatusCreated, course)
}

// DeleteCourse はコースを削除する。
// DELETE /api/dashboard/courses/{id}
func (h *DashboardHandler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "id")
	if err := h.store.DeleteCourse(recordFromContext(r.Context()), courseID); err != nil {
		if errors.Is(err, dashboard.ErrCourseNotFound) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewCourseNotFoundError(courseID))
			return
		}
		slog.ErrorContext(r.Context(), "failed to delete course", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTransactions は売上履歴を返す。
// GET /api/dashboard/transactions
func (h *DashboardHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.store.Transactions(recordFromContext(r.Context())))
}

// CreateImageUploadURL はプロフィール画像のアップロードURLを発行する。
// POST /api/dashboard/profile/image-upload-url
func (h *DashboardHandler) CreateImageUploadURL(w http.ResponseWriter, r *http.Request) {
	if h.presigner == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewUploadUnavailableError())
		return
	}

	var req imageUploadRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	record := recordFromContext(r.Context())
	upload, err := h.presigner.PresignImageUpload(r.Context(), record.UID, req.ContentType)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to presign image upload",
			slog.String("uid", record.UID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, upload)
}
