package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/middleware"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/model"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/repository"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/service"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	refreshToken    string
	refreshTokenErr error

	rotated   *model.RefreshToken
	rotateErr error

	logoutErr error

	user    *model.User
	userErr error

	bookingID  int64
	bookingErr error

	cancelErr error

	usageReport *model.UsageReport
	usageErr    error

	revenueReport *model.RevenueReport
	revenueErr    error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) IssueRefreshToken(ctx context.Context, userID int64) (string, error) {
	return s.refreshToken, s.refreshTokenErr
}

func (s *stubService) RotateRefreshToken(ctx context.Context, oldToken string) (*model.RefreshToken, error) {
	return s.rotated, s.rotateErr
}

func (s *stubService) Logout(ctx context.Context, token string) error {
	return s.logoutErr
}

func (s *stubService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) CreateBooking(ctx context.Context, userID int64, classTitle string, startsAt time.Time) (int64, error) {
	return s.bookingID, s.bookingErr
}

func (s *stubService) CancelBooking(ctx context.Context, userID, bookingID int64) error {
	return s.cancelErr
}

func (s *stubService) BuildUsageReport(ctx context.Context) (*model.UsageReport, error) {
	return s.usageReport, s.usageErr
}

func (s *stubService) BuildRevenueReport(ctx context.Context) (*model.RevenueReport, error) {
	return s.revenueReport, s.revenueErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func bearer(t *testing.T, h *Handler, userID int64, role model.UserRole) string {
	t.Helper()

	token, err := h.authMiddleware.IssueAccessToken(userID, role)
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	return "Bearer " + token
}

func TestRegister_ReturnsTokenPair(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
		refreshToken:   "refresh-token-value",
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var pair tokenPairResponse
	if err := json.NewDecoder(res.Body).Decode(&pair); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatalf("expected non-empty access token")
	}
	if pair.RefreshToken != "refresh-token-value" {
		t.Fatalf("refreshToken = %q", pair.RefreshToken)
	}
}

func TestRegister_ConflictOnDuplicate(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrUserExists,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestLogin_UnauthorizedOnInvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: service.ErrInvalidCredentials,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(credentialsRequest{
		Login:    "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestRefresh_UnauthorizedOnReuse(t *testing.T) {
	svc := &stubService{
		rotateErr: repository.ErrTokenReused,
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(refreshRequest{RefreshToken: "stolen"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestRefresh_ReturnsRotatedPair(t *testing.T) {
	svc := &stubService{
		rotated: &model.RefreshToken{
			Token:  "new-refresh",
			UserID: 7,
		},
		user: &model.User{
			ID:   7,
			Role: model.RoleUser,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(refreshRequest{RefreshToken: "old-refresh"})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Refresh(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var pair tokenPairResponse
	if err := json.NewDecoder(res.Body).Decode(&pair); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if pair.RefreshToken != "new-refresh" {
		t.Fatalf("refreshToken = %q, want new-refresh", pair.RefreshToken)
	}
	if pair.AccessToken == "" {
		t.Fatalf("expected non-empty access token")
	}
}

func TestCreateBooking_Created(t *testing.T) {
	svc := &stubService{
		bookingID: 11,
	}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	body, _ := json.Marshal(createBookingRequest{
		ClassTitle: "hatha yoga",
		StartsAt:   "2024-06-20T18:00:00Z",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewReader(body))
	req.Header.Set("Authorization", bearer(t, h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp createBookingResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 11 {
		t.Fatalf("id = %d, want 11", resp.ID)
	}
}

func TestCancelBooking_NotFound(t *testing.T) {
	svc := &stubService{
		cancelErr: repository.ErrBookingNotFound,
	}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodDelete, "/api/bookings/99", nil)
	req.Header.Set("Authorization", bearer(t, h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestUsageReport_ForbiddenForNonAdmin(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/reports/usage", nil)
	req.Header.Set("Authorization", bearer(t, h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestUsageReport_UnauthorizedWithoutToken(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/reports/usage", nil)
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestUsageReport_OKForAdmin(t *testing.T) {
	svc := &stubService{
		usageReport: &model.UsageReport{
			GeneratedAt:        "2024-06-15T12:00:00Z",
			TotalUsers:         100,
			ActiveUsersLast7d:  17,
			StreakDistribution: []model.StreakBucket{{Length: 3, Count: 1}},
			TopChallenges:      []model.TopChallenge{},
		},
	}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/reports/usage", nil)
	req.Header.Set("Authorization", bearer(t, h, 1, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp usageReportResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Report == nil || resp.Report.TotalUsers != 100 {
		t.Fatalf("unexpected report: %+v", resp.Report)
	}
}

func TestRevenueReport_InternalErrorHidesDetails(t *testing.T) {
	svc := &stubService{
		revenueErr: context.DeadlineExceeded,
	}
	h := newTestHandler(t, svc)
	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/reports/revenue", nil)
	req.Header.Set("Authorization", bearer(t, h, 1, model.RoleAdmin))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}

	var resp errorResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "internal server error" {
		t.Fatalf("error = %q, want generic message", resp.Error)
	}
}
