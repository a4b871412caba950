// Package retry provides the resilient request executor that wraps every
// outbound call with classification-aware retry and exponential backoff.
//
// The policy is parameterized, not duplicated per endpoint: catalog fetches,
// generation calls and clone calls all go through Do with their own attempt
// function.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/voxkit/tts-bot/internal/core"
	"github.com/voxkit/tts-bot/internal/stats"
)

// Class is the retry-relevant classification of one failed attempt.
type Class int

const (
	// ClassTransient covers timeouts, 5xx and anything unclassified;
	// retried with plain exponential backoff.
	ClassTransient Class = iota
	// ClassAuth covers HTTP 401; terminal, a retry cannot help without a
	// fresh credential.
	ClassAuth
	// ClassBlocked covers HTTP 403; terminal, treated as bot detection.
	ClassBlocked
	// ClassRateLimited covers HTTP 429; retried with a stretched backoff.
	ClassRateLimited
)

// rateLimitBackoffFactor stretches the backoff for 429 responses.
const rateLimitBackoffFactor = 10

// Failure reasons surfaced to callers.
const (
	reasonCredentialRejected = "credential-rejected"
	reasonAccessDenied       = "access-denied"
	reasonAttemptsExhausted  = "attempts-exhausted"
)

// ErrNoAttempts indicates a policy that allows zero attempts.
var ErrNoAttempts = errors.New("max attempts must be positive")

// StatusError carries the HTTP status of a failed call so the classifier can
// act on it.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}

	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Classifier maps a failed attempt's error to a retry class.
type Classifier func(error) Class

// ClassifyStatus is the default classifier: it inspects StatusError codes
// and treats network timeouts and everything else as transient.
func ClassifyStatus(err error) Class {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusUnauthorized:
			return ClassAuth
		case http.StatusForbidden:
			return ClassBlocked
		case http.StatusTooManyRequests:
			return ClassRateLimited
		default:
			return ClassTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	return ClassTransient
}

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BackoffBase float64
	// Unit scales every computed backoff; one second in production.
	Unit time.Duration
}

// AttemptFunc performs exactly one network call and reports the payload, the
// number of bytes transferred and an error classified by status.
type AttemptFunc[T any] func(ctx context.Context) (T, int, error)

// SleepFunc suspends for the given duration or until the context is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor decorates attempt functions with retry, backoff and telemetry.
type Executor struct {
	counters *stats.Counters
	log      *logger.Logger
	sleep    SleepFunc
}

// NewExecutor creates an executor recording into the given counters.
func NewExecutor(counters *stats.Counters, log *logger.Logger) *Executor {
	return &Executor{
		counters: counters,
		log:      log,
		sleep:    sleepContext,
	}
}

// NewExecutorWithSleep creates an executor with a custom sleep function.
// This constructor is primarily for testing backoff behavior without real
// delays.
func NewExecutorWithSleep(counters *stats.Counters, log *logger.Logger, sleep SleepFunc) *Executor {
	return &Executor{
		counters: counters,
		log:      log,
		sleep:    sleep,
	}
}

// Do runs the attempt function under the policy. On success the payload is
// returned immediately. Terminal classes stop at once; retryable classes
// back off and try again until the attempts are spent, at which point a
// Failure with the exhausted kind and the last error is surfaced.
func Do[T any](ctx context.Context, exec *Executor, pol Policy, classify Classifier, attempt AttemptFunc[T]) (T, error) {
	var zero T

	if pol.MaxAttempts <= 0 {
		return zero, ErrNoAttempts
	}

	var lastErr error

	for attemptIndex := range pol.MaxAttempts {
		payload, transferred, err := attempt(ctx)

		exec.counters.RecordRequest()

		if err == nil {
			exec.counters.RecordSuccess(transferred)

			return payload, nil
		}

		lastErr = err

		switch classify(err) {
		case ClassAuth:
			exec.counters.RecordAuthError()
			exec.log.Error("Credential rejected (401), not retrying: %v", err)

			return zero, core.NewFailure(core.FailureAuth, reasonCredentialRejected, err)

		case ClassBlocked:
			exec.counters.RecordOtherError()
			exec.log.Error("Access denied (403), possible bot detection: %v", err)

			return zero, core.NewFailure(core.FailureBlocked, reasonAccessDenied, err)

		case ClassRateLimited:
			exec.counters.RecordRateLimit()

			if attemptIndex < pol.MaxAttempts-1 {
				delay := backoff(pol, attemptIndex, rateLimitBackoffFactor)
				exec.log.Warn("Rate limited (429), waiting %s before retry %d/%d",
					delay, attemptIndex+2, pol.MaxAttempts)

				sleepErr := exec.sleep(ctx, delay)
				if sleepErr != nil {
					return zero, core.NewFailure(core.FailureExhausted, reasonAttemptsExhausted, sleepErr)
				}
			}

		case ClassTransient:
			exec.counters.RecordOtherError()

			if attemptIndex < pol.MaxAttempts-1 {
				delay := backoff(pol, attemptIndex, 1)
				exec.log.Warn("Transient failure, waiting %s before retry %d/%d: %v",
					delay, attemptIndex+2, pol.MaxAttempts, err)

				sleepErr := exec.sleep(ctx, delay)
				if sleepErr != nil {
					return zero, core.NewFailure(core.FailureExhausted, reasonAttemptsExhausted, sleepErr)
				}
			}
		}
	}

	exec.log.Error("All %d attempts failed: %v", pol.MaxAttempts, lastErr)

	return zero, core.NewFailure(core.FailureExhausted, reasonAttemptsExhausted, lastErr)
}

// backoff computes base^attempt * factor * unit.
func backoff(pol Policy, attemptIndex, factor int) time.Duration {
	unit := pol.Unit
	if unit <= 0 {
		unit = time.Second
	}

	scale := math.Pow(pol.BackoffBase, float64(attemptIndex)) * float64(factor)

	return time.Duration(scale * float64(unit))
}

// sleepContext suspends for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
