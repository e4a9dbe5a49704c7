// Package service реализует бизнес-логику велнес-платформы.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/model"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/repository"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/streak"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	refreshTokenTTL = 30 * 24 * time.Hour

	activeUsersWindow    = 7 * 24 * time.Hour
	failedPaymentsWindow = 30 * 24 * time.Hour

	topChallengesLimit       = 5
	recentFailedPaymentLimit = 20
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CountUsers(ctx context.Context) (int64, error)
	CreateBooking(ctx context.Context, userID int64, classTitle string, startsAt time.Time) (int64, error)
	CancelBooking(ctx context.Context, userID, bookingID int64) error
	GetBookingActivities(ctx context.Context) ([]model.BookingActivity, error)
	CountActiveUsers(ctx context.Context, from, to time.Time) (int64, error)
	GetTopChallenges(ctx context.Context, limit int) ([]model.TopChallenge, error)
	SumSubscriptionRevenue(ctx context.Context, from, to time.Time) (int64, error)
	CountActiveSubscriptions(ctx context.Context) (int64, error)
	FailedPaymentTotals(ctx context.Context, from time.Time) (int64, int64, error)
	GetRecentFailedPayments(ctx context.Context, from time.Time, limit int) ([]model.Payment, error)
	SaveRefreshToken(ctx context.Context, token model.RefreshToken) error
	RotateRefreshToken(ctx context.Context, oldToken string, newToken model.RefreshToken, now time.Time) (*model.RefreshToken, error)
	RevokeTokenFamilyByToken(ctx context.Context, token string) error
}

// Service содержит бизнес-логику велнес-платформы.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с ролью USER.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, model.RoleUser)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его данные.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// IssueRefreshToken выпускает refresh-токен, открывающий новое семейство токенов.
func (s *Service) IssueRefreshToken(ctx context.Context, userID int64) (string, error) {
	now := s.now().UTC()

	token := model.RefreshToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		FamilyID:  uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(refreshTokenTTL),
	}

	if err := s.repo.SaveRefreshToken(ctx, token); err != nil {
		return "", err
	}

	return token.Token, nil
}

// RotateRefreshToken обменивает refresh-токен на новый в том же семействе.
// Повторное предъявление уже использованного токена отзывает всё семейство.
func (s *Service) RotateRefreshToken(ctx context.Context, oldToken string) (*model.RefreshToken, error) {
	now := s.now().UTC()

	newToken := model.RefreshToken{
		Token:     uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(refreshTokenTTL),
	}

	return s.repo.RotateRefreshToken(ctx, oldToken, newToken, now)
}

// Logout отзывает семейство токенов, к которому принадлежит предъявленный refresh-токен.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.repo.RevokeTokenFamilyByToken(ctx, token)
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// CreateBooking создаёт бронирование занятия для пользователя.
func (s *Service) CreateBooking(ctx context.Context, userID int64, classTitle string, startsAt time.Time) (int64, error) {
	return s.repo.CreateBooking(ctx, userID, classTitle, startsAt)
}

// CancelBooking отменяет бронирование пользователя.
func (s *Service) CancelBooking(ctx context.Context, userID, bookingID int64) error {
	return s.repo.CancelBooking(ctx, userID, bookingID)
}

// BuildUsageReport собирает сводку активности платформы: количество пользователей,
// активных за неделю, распределение серий и топ челленджей. Независимые выборки
// выполняются параллельно; при первой ошибке отчёт не строится.
func (s *Service) BuildUsageReport(ctx context.Context) (*model.UsageReport, error) {
	now := s.now().UTC()

	var (
		totalUsers  int64
		activeUsers int64
		activities  []model.BookingActivity
		challenges  []model.TopChallenge
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		totalUsers, err = s.repo.CountUsers(gctx)
		return err
	})

	g.Go(func() error {
		var err error
		activeUsers, err = s.repo.CountActiveUsers(gctx, now.Add(-activeUsersWindow), now)
		return err
	})

	g.Go(func() error {
		var err error
		activities, err = s.repo.GetBookingActivities(gctx)
		return err
	})

	g.Go(func() error {
		var err error
		challenges, err = s.repo.GetTopChallenges(gctx, topChallengesLimit)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if challenges == nil {
		challenges = []model.TopChallenge{}
	}

	return &model.UsageReport{
		GeneratedAt:        now.Format(time.RFC3339),
		TotalUsers:         totalUsers,
		ActiveUsersLast7d:  activeUsers,
		StreakDistribution: streak.Distribution(activities),
		TopChallenges:      challenges,
	}, nil
}

// BuildRevenueReport собирает сводку по регулярной выручке: MRR за текущий
// календарный месяц (UTC), ARR как MRR x 12 и сводку по неуспешным платежам
// за последние 30 дней.
func (s *Service) BuildRevenueReport(ctx context.Context) (*model.RevenueReport, error) {
	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	failedFrom := now.Add(-failedPaymentsWindow)

	var (
		mrrCents    int64
		activeSubs  int64
		failedCount int64
		failedTotal int64
		recent      []model.Payment
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		mrrCents, err = s.repo.SumSubscriptionRevenue(gctx, monthStart, now)
		return err
	})

	g.Go(func() error {
		var err error
		activeSubs, err = s.repo.CountActiveSubscriptions(gctx)
		return err
	})

	g.Go(func() error {
		var err error
		failedCount, failedTotal, err = s.repo.FailedPaymentTotals(gctx, failedFrom)
		return err
	})

	g.Go(func() error {
		var err error
		recent, err = s.repo.GetRecentFailedPayments(gctx, failedFrom, recentFailedPaymentLimit)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	recentResp := make([]model.FailedPayment, 0, len(recent))
	for _, p := range recent {
		recentResp = append(recentResp, model.FailedPayment{
			ID:        p.ID,
			UserID:    p.UserID,
			Amount:    float64(p.AmountCents) / 100,
			CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	// ARR считается в копейках, чтобы равенство arr == mrr * 12 было точным.
	return &model.RevenueReport{
		GeneratedAt:         now.Format(time.RFC3339),
		MRR:                 float64(mrrCents) / 100,
		ARR:                 float64(mrrCents*12) / 100,
		ActiveSubscriptions: activeSubs,
		FailedPayments: model.FailedPaymentsSummary{
			CountLast30d:       failedCount,
			TotalAmountLast30d: float64(failedTotal) / 100,
			Recent:             recentResp,
		},
	}, nil
}
