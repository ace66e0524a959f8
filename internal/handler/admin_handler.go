package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/mentorbook/internal/account"
	"github.com/hitoshi/mentorbook/internal/dashboard"
	"github.com/hitoshi/mentorbook/internal/identity"
	"github.com/hitoshi/mentorbook/internal/middleware"
	"github.com/hitoshi/mentorbook/internal/model"
)

// AdminChecker は管理者判定を行う。
type AdminChecker interface {
	IsAdmin(ident *model.Identity) bool
}

// CurrentIdentity はセッションに紐づくidentityを返す。
type CurrentIdentity interface {
	Current(ctx context.Context, sessionID string) (*model.Identity, error)
}

// AdminHandler は管理者によるメンター登録のHTTPハンドラー。
type AdminHandler struct {
	identity  CurrentIdentity
	admins    AdminChecker
	accounts  AccountService
	sanitizer dashboard.BioSanitizer
	validate  *validator.Validate
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(ident CurrentIdentity, admins AdminChecker, accounts AccountService, sanitizer dashboard.BioSanitizer) *AdminHandler {
	return &AdminHandler{
		identity:  ident,
		admins:    admins,
		accounts:  accounts,
		sanitizer: sanitizer,
		validate:  newValidator(),
	}
}

type onboardMentorRequest struct {
	Name       string   `json:"name" validate:"required,max=100"`
	Email      string   `json:"email" validate:"required,email"`
	Password   string   `json:"password" validate:"required,min=6"`
	Title      string   `json:"title" validate:"max=200"`
	Company    string   `json:"company" validate:"max=200"`
	Expertise  []string `json:"expertise" validate:"max=20,dive,max=100"`
	Bio        string   `json:"bio" validate:"max=5000"`
	HourlyRate float64  `json:"hourly_rate" validate:"gte=0"`
	ImageURL   string   `json:"image" validate:"omitempty,url"`
	PaymentURL string   `json:"payment_url" validate:"omitempty,url"`
}

type onboardMentorResponse struct {
	model.Mentor
	Slug string `json:"slug"`
}

// RequireAdmin は管理者以外を拒否するミドルウェア。RequireSessionの内側で使う。
func (h *AdminHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := h.identity.Current(r.Context(), middleware.SessionIDFromContext(r.Context()))
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to load current identity", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
		if ident == nil {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		if !h.admins.IsAdmin(ident) {
			slog.WarnContext(r.Context(), "non-admin attempted admin operation", slog.String("uid", ident.UID))
			middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OnboardMentor はメンターのアカウントを作成し、メンター一覧に登録する。
// POST /admin/mentors
func (h *AdminHandler) OnboardMentor(w http.ResponseWriter, r *http.Request) {
	var req onboardMentorRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	mentor, err := h.accounts.OnboardMentor(r.Context(), account.OnboardMentorInput{
		Name:       req.Name,
		Email:      req.Email,
		Password:   req.Password,
		Title:      req.Title,
		Company:    req.Company,
		Expertise:  req.Expertise,
		Bio:        h.sanitizer.SanitizeBio(req.Bio),
		HourlyRate: req.HourlyRate,
		ImageURL:   req.ImageURL,
		PaymentURL: req.PaymentURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrAccountExists):
			middleware.WriteErrorResponse(w, http.StatusConflict, model.NewAccountExistsError())
		case errors.Is(err, identity.ErrWeakPassword):
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewWeakPasswordError(identity.MinPasswordLength))
		default:
			slog.ErrorContext(r.Context(), "failed to onboard mentor", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
		}
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, onboardMentorResponse{Mentor: *mentor, Slug: mentor.Slug()})
}
