package engine

import (
	"context"
	"net/http"
	"slices"

	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds how often a request is attempted and which failures are
// worth another attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// RetryOn lists the response status codes that trigger another attempt.
	RetryOn []int
}

// PushRetryPolicy allows retries+1 attempts and retries only on HTTP 500.
func PushRetryPolicy(retries int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: max(retries, 0) + 1,
		RetryOn:     []int{http.StatusInternalServerError},
	}
}

// ShouldRetry reports whether err, returned by the given 1-based attempt,
// warrants another attempt.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	status := StatusCode(err)
	return status != 0 && slices.Contains(p.RetryOn, status)
}

// RetryingExecutor repeats requests that fail with a retryable status. There is
// no backoff between attempts.
type RetryingExecutor struct {
	next    Requester
	policy  RetryPolicy
	logger  logrus.FieldLogger
	metrics *Metrics
}

// NewRetryingExecutor wraps next with policy.
func NewRetryingExecutor(next Requester, policy RetryPolicy, logger logrus.FieldLogger, metrics *Metrics) *RetryingExecutor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RetryingExecutor{
		next:    next,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
	}
}

// Execute attempts req until it succeeds, fails with a non-retryable error, or
// the attempts are exhausted. The last error is returned unchanged.
func (r *RetryingExecutor) Execute(ctx context.Context, req Request, handle HandleFunc) error {
	for attempt := 1; ; attempt++ {
		err := r.next.Execute(ctx, req, handle)
		if err == nil || !r.policy.ShouldRetry(attempt, err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		r.metrics.retry()
		r.logger.WithFields(logrus.Fields{
			"method":  req.Method,
			"path":    req.Path,
			"attempt": attempt,
			"max":     r.policy.MaxAttempts,
			"status":  StatusCode(err),
		}).WithError(err).Warn("retrying request after transient daemon error")
	}
}
