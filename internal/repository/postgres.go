// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/model"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookingNotFound возвращается, если бронирование не найдено или принадлежит другому пользователю.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrTokenNotFound возвращается, если refresh-токен не найден.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenRevoked возвращается при попытке использовать отозванный refresh-токен.
	ErrTokenRevoked = errors.New("refresh token revoked")
	// ErrTokenReused возвращается при повторном использовании уже потраченного refresh-токена.
	// Всё семейство токенов при этом отзывается.
	ErrTokenReused = errors.New("refresh token reused")
	// ErrTokenExpired возвращается, если срок действия refresh-токена истёк.
	ErrTokenExpired = errors.New("refresh token expired")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.UserRole) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.UserRole(role)

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.UserRole(role)

	return &u, nil
}

// CountUsers возвращает общее количество зарегистрированных пользователей.
func (r *PostgresRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// CreateBooking создаёт бронирование занятия для пользователя.
func (r *PostgresRepository) CreateBooking(ctx context.Context, userID int64, classTitle string, startsAt time.Time) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO bookings (user_id, class_title, starts_at, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		userID, classTitle, startsAt, string(model.BookingStatusActive),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create booking: %w", err)
	}
	return id, nil
}

// CancelBooking переводит бронирование пользователя в статус CANCELLED.
// Отменённые бронирования перестают учитываться во всех отчётах активности.
func (r *PostgresRepository) CancelBooking(ctx context.Context, userID, bookingID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE bookings SET status = $3 WHERE id = $1 AND user_id = $2`,
		bookingID, userID, string(model.BookingStatusCancelled),
	)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}

	return nil
}

// GetBookingActivities возвращает все неотменённые бронирования для расчёта серий,
// отсортированные по пользователю и времени создания.
func (r *PostgresRepository) GetBookingActivities(ctx context.Context) ([]model.BookingActivity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, created_at
		 FROM bookings
		 WHERE status <> $1
		 ORDER BY user_id, created_at`,
		string(model.BookingStatusCancelled),
	)
	if err != nil {
		return nil, fmt.Errorf("select booking activities: %w", err)
	}
	defer rows.Close()

	var res []model.BookingActivity
	for rows.Next() {
		var a model.BookingActivity
		if err := rows.Scan(&a.UserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan booking activity: %w", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountActiveUsers возвращает количество уникальных пользователей с хотя бы одним
// неотменённым бронированием, созданным в указанном интервале.
func (r *PostgresRepository) CountActiveUsers(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT user_id)
		 FROM bookings
		 WHERE status <> $1 AND created_at >= $2 AND created_at <= $3`,
		string(model.BookingStatusCancelled), from, to,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return count, nil
}

// GetTopChallenges возвращает челленджи с наибольшим количеством участников.
// Челленджи без участников не попадают в выборку; при равенстве количество
// порядок детерминирован по идентификатору.
func (r *PostgresRepository) GetTopChallenges(ctx context.Context, limit int) ([]model.TopChallenge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.title, COUNT(e.user_id) AS enrollment_count
		 FROM challenges c
		 JOIN challenge_enrollments e ON e.challenge_id = c.id
		 GROUP BY c.id, c.title
		 ORDER BY enrollment_count DESC, c.id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select top challenges: %w", err)
	}
	defer rows.Close()

	var res []model.TopChallenge
	for rows.Next() {
		var c model.TopChallenge
		if err := rows.Scan(&c.ID, &c.Title, &c.EnrollmentCount); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SumSubscriptionRevenue возвращает сумму завершённых платежей по подпискам
// в копейках за указанный интервал. Платежи без подписки не учитываются.
func (r *PostgresRepository) SumSubscriptionRevenue(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM payments
		 WHERE status = $1 AND subscription_id IS NOT NULL
		   AND created_at >= $2 AND created_at <= $3`,
		string(model.PaymentStatusCompleted), from, to,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum subscription revenue: %w", err)
	}
	return total, nil
}

// CountActiveSubscriptions возвращает количество активных подписок.
func (r *PostgresRepository) CountActiveSubscriptions(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE status = $1`,
		string(model.SubscriptionStatusActive),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active subscriptions: %w", err)
	}
	return count, nil
}

// FailedPaymentTotals возвращает количество и сумму (в копейках) неуспешных
// платежей, созданных начиная с указанного момента.
func (r *PostgresRepository) FailedPaymentTotals(ctx context.Context, from time.Time) (int64, int64, error) {
	var count int64
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0)
		 FROM payments
		 WHERE status = $1 AND created_at >= $2`,
		string(model.PaymentStatusFailed), from,
	).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed payment totals: %w", err)
	}
	return count, total, nil
}

// GetRecentFailedPayments возвращает последние неуспешные платежи, новые первыми.
func (r *PostgresRepository) GetRecentFailedPayments(ctx context.Context, from time.Time, limit int) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, subscription_id, amount, status, created_at
		 FROM payments
		 WHERE status = $1 AND created_at >= $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		string(model.PaymentStatusFailed), from, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select failed payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var p model.Payment
		var status string
		if err := rows.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &p.AmountCents, &status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Status = model.PaymentStatus(status)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SaveRefreshToken сохраняет новый refresh-токен.
func (r *PostgresRepository) SaveRefreshToken(ctx context.Context, token model.RefreshToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token, user_id, family_id, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		token.Token, token.UserID, token.FamilyID, token.IssuedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken помечает старый refresh-токен использованным и сохраняет новый
// в одной транзакции. Повторное использование уже потраченного токена считается
// компрометацией: всё семейство отзывается, возвращается ErrTokenReused.
func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, oldToken string, newToken model.RefreshToken, now time.Time) (*model.RefreshToken, error) {
	var rotated *model.RefreshToken

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокируем строку токена, чтобы сериализовать конкурентные ротации.
		var old model.RefreshToken
		err = tx.QueryRow(ctx,
			`SELECT token, user_id, family_id, issued_at, expires_at, used, revoked
			 FROM refresh_tokens
			 WHERE token = $1
			 FOR UPDATE`,
			oldToken,
		).Scan(&old.Token, &old.UserID, &old.FamilyID, &old.IssuedAt, &old.ExpiresAt, &old.Used, &old.Revoked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrTokenNotFound
			}
			return fmt.Errorf("select refresh token: %w", err)
		}

		if old.Revoked {
			return ErrTokenRevoked
		}

		if old.Used {
			if _, err := tx.Exec(ctx,
				`UPDATE refresh_tokens SET revoked = TRUE WHERE family_id = $1`,
				old.FamilyID,
			); err != nil {
				return fmt.Errorf("revoke token family: %w", err)
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit tx: %w", err)
			}
			return ErrTokenReused
		}

		if old.ExpiresAt.Before(now) {
			return ErrTokenExpired
		}

		if _, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET used = TRUE WHERE token = $1`,
			oldToken,
		); err != nil {
			return fmt.Errorf("mark token used: %w", err)
		}

		newToken.UserID = old.UserID
		newToken.FamilyID = old.FamilyID

		if _, err := tx.Exec(ctx,
			`INSERT INTO refresh_tokens (token, user_id, family_id, issued_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			newToken.Token, newToken.UserID, newToken.FamilyID, newToken.IssuedAt, newToken.ExpiresAt,
		); err != nil {
			return fmt.Errorf("insert refresh token: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		rotated = &newToken
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rotated, nil
}

// RevokeTokenFamilyByToken отзывает всё семейство, к которому принадлежит токен.
func (r *PostgresRepository) RevokeTokenFamilyByToken(ctx context.Context, token string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE refresh_tokens
		 SET revoked = TRUE
		 WHERE family_id = (SELECT family_id FROM refresh_tokens WHERE token = $1)`,
		token,
	)
	if err != nil {
		return fmt.Errorf("revoke token family: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}

	return nil
}
