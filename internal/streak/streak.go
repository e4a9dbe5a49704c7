// Package streak содержит расчёт серий последовательных дней активности.
package streak

import (
	"sort"
	"time"

	"github.com/metinemredonmez/yoga-meditation-full-app-sub008/internal/model"
)

// Distribution вычисляет распределение пользователей по максимальной длине серии.
// Серия — количество последовательных календарных дней (UTC), в каждом из которых
// у пользователя есть хотя бы одно неотменённое бронирование. Повторные бронирования
// в один и тот же день серию не продлевают и не разрывают. Пользователи без
// бронирований в распределение не попадают.
func Distribution(activities []model.BookingActivity) []model.StreakBucket {
	byUser := make(map[int64][]time.Time)
	for _, a := range activities {
		byUser[a.UserID] = append(byUser[a.UserID], a.CreatedAt)
	}

	counts := make(map[int]int64)
	for _, dates := range byUser {
		if longest := longestStreak(dates); longest > 0 {
			counts[longest]++
		}
	}

	buckets := make([]model.StreakBucket, 0, len(counts))
	for length, count := range counts {
		buckets = append(buckets, model.StreakBucket{Length: length, Count: count})
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Length < buckets[j].Length
	})

	return buckets
}

// longestStreak возвращает максимальную длину серии для одного пользователя.
func longestStreak(dates []time.Time) int {
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})

	current := 0
	longest := 0
	var prev time.Time

	for _, ts := range dates {
		day := truncateToDay(ts)

		if prev.IsZero() {
			current = 1
		} else {
			diff := daysBetween(prev, day)
			// Дубликат в тот же день пропускаем целиком, prev не сдвигается.
			if diff == 0 {
				continue
			}
			if diff == 1 {
				current++
			} else {
				current = 1
			}
		}

		if current > longest {
			longest = current
		}
		prev = day
	}

	return longest
}

func truncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}
