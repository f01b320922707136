package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/utkarsh5026/dialogrelay/internal/algorithms"
	"github.com/utkarsh5026/dialogrelay/internal/logging"
)

// RateLimited throttles calls to a delegate Backend. Callers wait for a
// token within their own deadline; a caller whose deadline expires first
// fails without reaching the delegate.
type RateLimited struct {
	delegate Backend
	limiter  *rate.Limiter
}

// NewRateLimited wraps b so it is called at most perSecond times a second
// with the given burst. Non-positive limits return b unchanged.
func NewRateLimited(b Backend, perSecond float64, burst int) Backend {
	if b == nil || perSecond <= 0 || burst <= 0 {
		return b
	}
	return &RateLimited{
		delegate: b,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Generate waits for a token, then delegates.
func (r *RateLimited) Generate(ctx context.Context, personality, language, conversation string) (Reply, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Reply{}, fmt.Errorf("ai: rate limit: %w", err)
	}
	return r.delegate.Generate(ctx, personality, language, conversation)
}

// Retrying repeats failed calls that Retryable accepts, sleeping according
// to a backoff strategy between attempts.
type Retrying struct {
	delegate Backend
	attempts int
	backoff  func() algorithms.Strategy
	log      *logging.Logger
}

// NewRetrying wraps b with up to attempts tries. attempts <= 1 returns b.
// newBackoff is called once per Generate so strategies with state are not
// shared between connections.
func NewRetrying(b Backend, attempts int, newBackoff func() algorithms.Strategy, log *logging.Logger) Backend {
	if b == nil || attempts <= 1 {
		return b
	}
	return &Retrying{delegate: b, attempts: attempts, backoff: newBackoff, log: log}
}

// Generate calls the delegate until it succeeds, fails permanently, runs
// out of attempts or ctx ends.
func (r *Retrying) Generate(ctx context.Context, personality, language, conversation string) (Reply, error) {
	var reply Reply
	attempt := 0

	var strategy algorithms.Strategy
	if r.backoff != nil {
		strategy = r.backoff()
	}

	err := algorithms.Retry(ctx, r.attempts, strategy, Retryable, func(ctx context.Context) error {
		attempt++
		var err error
		reply, err = r.delegate.Generate(ctx, personality, language, conversation)
		if err != nil && attempt < r.attempts && Retryable(err) {
			r.log.Warn("ai call failed, retrying", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}
