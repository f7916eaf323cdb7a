package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrDisabled is returned when no oracle provider is configured
	ErrDisabled = errors.New("oracle disabled")
	// ErrRateLimited is returned when the call budget is exhausted
	ErrRateLimited = errors.New("oracle rate limited")
	// ErrTimeout is returned when the provider does not answer in time
	ErrTimeout = errors.New("oracle timed out")
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 5.0
	DefaultBurst     = 10
)

// GuardOptions bounds oracle usage
type GuardOptions struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Guard wraps an oracle with a hard timeout and a token bucket. It never waits for a token
// and never retries; callers fall back to heuristics on any error.
type Guard struct {
	oracle  core.Oracle
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewGuard creates a guard around the oracle. A nil oracle yields a guard that always
// reports ErrDisabled.
func NewGuard(o core.Oracle, logger *zap.Logger, opts GuardOptions) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	return &Guard{
		oracle:  o,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Enabled reports whether a provider is configured
func (g *Guard) Enabled() bool {
	return g != nil && g.oracle != nil
}

// Classify calls the oracle once. It returns within the timeout even when the provider
// ignores context cancellation.
func (g *Guard) Classify(ctx context.Context, email *core.Email) (*core.OracleResult, error) {
	if !g.Enabled() {
		return nil, ErrDisabled
	}
	if !g.limiter.Allow() {
		oracleCalls.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type reply struct {
		result *core.OracleResult
		err    error
	}
	done := make(chan reply, 1)
	started := time.Now()

	go func() {
		result, err := g.oracle.Classify(ctx, email)
		done <- reply{result, err}
	}()

	select {
	case r := <-done:
		oracleLatency.Observe(time.Since(started).Seconds())
		if r.err != nil {
			oracleCalls.WithLabelValues("error").Inc()
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, r.err)
			}
			return nil, r.err
		}
		if r.result == nil {
			oracleCalls.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: empty result", ErrInvalidResponse)
		}
		oracleCalls.WithLabelValues("ok").Inc()
		return r.result, nil
	case <-ctx.Done():
		oracleCalls.WithLabelValues("timeout").Inc()
		g.logger.Warn("Oracle call abandoned",
			zap.String("email_id", email.ID),
			zap.Duration("timeout", g.timeout),
			zap.Error(ctx.Err()))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}
