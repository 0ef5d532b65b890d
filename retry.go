package querycache

import "time"

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. Attempts are numbered from 0.
type RetryPolicy struct {
	ceiling int
	pred    func(attempt int, err error) bool
	delay   time.Duration
	delayFn func(attempt int) time.Duration
}

func newRetryPolicy(retries int, pred func(int, error) bool, delay time.Duration, delayFn func(int) time.Duration) RetryPolicy {
	if retries == 0 {
		retries = defaultRetries
	}
	if retries < 0 {
		retries = 0
	}
	return RetryPolicy{ceiling: retries, pred: pred, delay: delay, delayFn: delayFn}
}

// ShouldRetry reports whether the failure of attempt may be followed by another one.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if p.pred != nil {
		return p.pred(attempt, err)
	}
	return attempt < p.ceiling
}

// Delay returns the wait before the attempt following attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.delayFn != nil {
		if d := p.delayFn(attempt); d > 0 {
			return d
		}
		return 0
	}
	return p.delay
}
