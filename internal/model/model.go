// Package model содержит доменные сущности велнес-платформы.
package model

import "time"

// UserRole описывает роль пользователя платформы.
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         UserRole
	CreatedAt    time.Time
}

// BookingStatus описывает статус бронирования занятия.
type BookingStatus string

const (
	BookingStatusActive    BookingStatus = "ACTIVE"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// Booking описывает бронирование занятия пользователем.
type Booking struct {
	ID         int64
	UserID     int64
	ClassTitle string
	StartsAt   time.Time
	Status     BookingStatus
	CreatedAt  time.Time
}

// BookingActivity содержит минимальный срез бронирования для расчёта активности.
type BookingActivity struct {
	UserID    int64
	CreatedAt time.Time
}

// Challenge описывает челлендж с количеством записавшихся участников.
type Challenge struct {
	ID              int64
	Title           string
	EnrollmentCount int64
}

// SubscriptionStatus описывает статус подписки.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

// PaymentStatus описывает статус платежа.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusPending   PaymentStatus = "PENDING"
)

// Payment описывает платёж пользователя. Сумма хранится в копейках.
type Payment struct {
	ID             int64
	UserID         int64
	SubscriptionID *int64
	AmountCents    int64
	Status         PaymentStatus
	CreatedAt      time.Time
}

// RefreshToken описывает refresh-токен в составе семейства токенов одной сессии.
type RefreshToken struct {
	Token     string
	UserID    int64
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
	Revoked   bool
}

// StreakBucket содержит количество пользователей с указанной максимальной длиной серии.
type StreakBucket struct {
	Length int   `json:"length"`
	Count  int64 `json:"count"`
}

// TopChallenge описывает челлендж в рейтинге по количеству участников.
type TopChallenge struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	EnrollmentCount int64  `json:"enrollmentCount"`
}

// UsageReport содержит сводку активности платформы на момент построения.
type UsageReport struct {
	GeneratedAt        string         `json:"generatedAt"`
	TotalUsers         int64          `json:"totalUsers"`
	ActiveUsersLast7d  int64          `json:"activeUsersLast7d"`
	StreakDistribution []StreakBucket `json:"streakDistribution"`
	TopChallenges      []TopChallenge `json:"topChallenges"`
}

// FailedPayment описывает неуспешный платёж в сводке по сбоям.
type FailedPayment struct {
	ID        int64   `json:"id"`
	UserID    int64   `json:"userId"`
	Amount    float64 `json:"amount"`
	CreatedAt string  `json:"createdAt"`
}

// FailedPaymentsSummary содержит сводку по неуспешным платежам за последние 30 дней.
type FailedPaymentsSummary struct {
	CountLast30d       int64           `json:"countLast30d"`
	TotalAmountLast30d float64         `json:"totalAmountLast30d"`
	Recent             []FailedPayment `json:"recent"`
}

// RevenueReport содержит сводку по регулярной выручке.
type RevenueReport struct {
	GeneratedAt         string                `json:"generatedAt"`
	MRR                 float64               `json:"mrr"`
	ARR                 float64               `json:"arr"`
	ActiveSubscriptions int64                 `json:"activeSubscriptions"`
	FailedPayments      FailedPaymentsSummary `json:"failedPayments"`
}
