package queue

import (
	"errors"
	"math/rand"
	"time"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryManager manages retry logic for failed tasks
type RetryManager struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryManager creates a new RetryManager
func NewRetryManager(maxRetries int, baseDelay time.Duration) *RetryManager {
	return &RetryManager{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   baseDelay * 16,
	}
}

// ShouldRetry determines if a task should be retried and returns the delay.
// task.Attempts counts the attempt that just failed.
func (r *RetryManager) ShouldRetry(task *Task, err error) (bool, time.Duration) {
	if err == nil || IsPermanent(err) {
		return false, 0
	}

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = r.maxRetries
	}
	if task.Attempts >= maxRetries {
		return false, 0
	}

	return true, r.calculateBackoff(task.Attempts)
}

// calculateBackoff returns base * 2^(attempt-1) with ±25% jitter, capped at maxDelay
func (r *RetryManager) calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return r.baseDelay
	}

	backoff := r.baseDelay * time.Duration(1<<(attempt-1))
	if backoff > r.maxDelay {
		backoff = r.maxDelay
	}

	if quarter := int64(backoff / 4); quarter > 0 {
		backoff += time.Duration(rand.Int63n(2*quarter+1) - quarter)
	}

	return backoff
}
