package gemini

import (
	"errors"
	"sync"
	"time"
)

// ErrDailyQuotaExceeded is returned once a client has used its requests for the UTC day.
var ErrDailyQuotaExceeded = errors.New("daily Gemini request quota exceeded")

// dailyQuota counts requests per UTC day. A nil quota or a non-positive limit never refuses.
type dailyQuota struct {
	mu        sync.Mutex
	limit     int
	used      int
	resetDate time.Time
	now       func() time.Time
}

func newDailyQuota(limit int) *dailyQuota {
	if limit <= 0 {
		return nil
	}
	return &dailyQuota{limit: limit, now: time.Now}
}

// take consumes one request, or returns ErrDailyQuotaExceeded.
func (q *dailyQuota) take() error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if q.resetDate.Before(today) {
		q.used = 0
		q.resetDate = today
	}
	if q.used >= q.limit {
		return ErrDailyQuotaExceeded
	}
	q.used++
	return nil
}
