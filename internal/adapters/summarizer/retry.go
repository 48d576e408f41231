package summarizer

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mm-summarizer/internal/infra/openai"
)

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 10 * time.Second
)

// classifyError решает, имеет ли смысл повтор. Повторяются транспортные
// сбои, 5xx и 429; остальные 4xx — нет.
func classifyError(err error) (retryable bool, throttled bool, retryAfter string) {
	apiErr, ok := openai.AsAPIError(err)
	if !ok {
		// транспортная ошибка без HTTP статуса
		return true, false, ""
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return true, true, apiErr.RetryAfter
	case apiErr.StatusCode >= 500:
		return true, false, ""
	default:
		return false, false, ""
	}
}

// backoffDelay возвращает экспоненциальную задержку с удвоением базы и
// потолком в 10 секунд. attempt нумеруется с единицы.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// throttleDelay учитывает заголовок Retry-After (секунды либо HTTP-дата),
// иначе возвращает фиксированный настройкой откат.
func throttleDelay(retryAfter string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(retryAfter)
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
		return 0
	}
	return fallback
}

// rateLimiter выдерживает минимальную паузу между исходящими запросами.
// Один общий лимитер обслуживает и одиночные, и батчевые вызовы.
type rateLimiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	lastDone time.Time
}

func newRateLimiter(minDelay time.Duration) *rateLimiter {
	return &rateLimiter{minDelay: minDelay}
}

// wait досыпает остаток окна с момента завершения прошлого вызова.
func (l *rateLimiter) wait(ctx context.Context) error {
	if l == nil || l.minDelay <= 0 {
		return nil
	}
	l.mu.Lock()
	remaining := l.minDelay - time.Since(l.lastDone)
	l.mu.Unlock()
	if remaining > 0 {
		if err := sleepCtx(ctx, remaining); err != nil {
			return err
		}
	}
	return nil
}

// done фиксирует момент завершения вызова.
func (l *rateLimiter) done() {
	if l == nil || l.minDelay <= 0 {
		return
	}
	l.mu.Lock()
	l.lastDone = time.Now()
	l.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
