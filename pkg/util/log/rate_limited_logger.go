package log

import (
	"github.com/go-kit/log"
	"golang.org/x/time/rate"
)

// RateLimitedLogger drops log lines once more than n have been emitted in
// the current second, to keep a noisy per-request path (e.g. a flood of
// malformed X-Forwarded-For headers) from overwhelming the log sink.
type RateLimitedLogger struct {
	next    log.Logger
	limiter *rate.Limiter
}

// NewRateLimitedLogger wraps next so that at most n Log calls per second are
// forwarded; the rest are silently dropped.
func NewRateLimitedLogger(n int, next log.Logger) *RateLimitedLogger {
	return &RateLimitedLogger{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(n), n),
	}
}

// Log implements log.Logger.
func (r *RateLimitedLogger) Log(keyvals ...interface{}) error {
	if !r.limiter.Allow() {
		return nil
	}
	return r.next.Log(keyvals...)
}
