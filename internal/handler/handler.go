// Package handler содержит HTTP-обработчики API велнес-платформы.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/middleware"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/model"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/repository"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	IssueRefreshToken(ctx context.Context, userID int64) (string, error)
	RotateRefreshToken(ctx context.Context, oldToken string) (*model.RefreshToken, error)
	Logout(ctx context.Context, token string) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CreateBooking(ctx context.Context, userID int64, classTitle string, startsAt time.Time) (int64, error)
	CancelBooking(ctx context.Context, userID, bookingID int64) error
	BuildUsageReport(ctx context.Context) (*model.UsageReport, error)
	BuildRevenueReport(ctx context.Context) (*model.RevenueReport, error)
}

// Handler реализует HTTP-обработчики API велнес-платформы.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) writeTokenPair(w http.ResponseWriter, r *http.Request, userID int64, role model.UserRole) {
	accessToken, err := h.authMiddleware.IssueAccessToken(userID, role)
	if err != nil {
		h.logger.Error("issue access token error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	refreshToken, err := h.service.IssueRefreshToken(r.Context(), userID)
	if err != nil {
		h.logger.Error("issue refresh token error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// Register обрабатывает регистрацию нового пользователя и открывает сессию.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeTokenPair(w, r, userID, model.RoleUser)
}

// Login выполняет аутентификацию пользователя и выдачу пары токенов.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeTokenPair(w, r, user.ID, user.Role)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh обменивает refresh-токен на новую пару токенов. Повторное предъявление
// уже использованного токена отзывает всё семейство сессии.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.RefreshToken == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rotated, err := h.service.RotateRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if isTokenRejection(err) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("refresh token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), rotated.UserID)
	if err != nil {
		h.logger.Error("get user error", zap.Error(err), zap.Int64("userID", rotated.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	accessToken, err := h.authMiddleware.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		h.logger.Error("issue access token error", zap.Error(err), zap.Int64("userID", user.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: rotated.Token,
	}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

func isTokenRejection(err error) bool {
	return errors.Is(err, repository.ErrTokenNotFound) ||
		errors.Is(err, repository.ErrTokenRevoked) ||
		errors.Is(err, repository.ErrTokenReused) ||
		errors.Is(err, repository.ErrTokenExpired)
}

// Logout отзывает семейство refresh-токенов текущей сессии.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.RefreshToken == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("logout error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type createBookingRequest struct {
	ClassTitle string `json:"classTitle"`
	StartsAt   string `json:"startsAt"`
}

type createBookingResponse struct {
	ID int64 `json:"id"`
}

// CreateBooking создаёт бронирование занятия для текущего пользователя.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ClassTitle == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateBooking(r.Context(), userID, req.ClassTitle, startsAt)
	if err != nil {
		h.logger.Error("create booking error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(createBookingResponse{ID: id}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// CancelBooking отменяет бронирование текущего пользователя.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	bookingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CancelBooking(r.Context(), userID, bookingID); err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("cancel booking error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("bookingID", bookingID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type usageReportResponse struct {
	Report *model.UsageReport `json:"report"`
}

type revenueReportResponse struct {
	Report *model.RevenueReport `json:"report"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeReportError(w http.ResponseWriter, operation string, err error) {
	h.logger.Error("report error", zap.Error(err), zap.String("operation", operation))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: "internal server error"})
}

// GetUsageReport возвращает сводку активности платформы.
func (h *Handler) GetUsageReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.BuildUsageReport(r.Context())
	if err != nil {
		h.writeReportError(w, "usage report", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(usageReportResponse{Report: report}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetRevenueReport возвращает сводку по регулярной выручке.
func (h *Handler) GetRevenueReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.BuildRevenueReport(r.Context())
	if err != nil {
		h.writeReportError(w, "revenue report", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(revenueReportResponse{Report: report}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
