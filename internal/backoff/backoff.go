// Package backoff implements the shared resilience policy for rate-limited
// external services: capped exponential waits with jitter, credential
// rotation, and the error taxonomy both API clients classify into.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrQuotaExceeded marks a throttled external call. It is the only error the
// retry loop treats as recoverable; clients wrap raw 429 responses into it at
// the boundary so nothing deeper branches on payload shape.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrHardExhaustion marks a call whose full retry and rotation budget was
// spent without success. Terminal for the current unit of work only.
var ErrHardExhaustion = errors.New("retry budget exhausted")

// capExponent caps the exponential wait at 2^5 = 32 seconds.
const capExponent = 5

// BaseWait returns the deterministic part of the wait for an attempt number:
// 2^min(attempt, capExponent) seconds.
func BaseWait(attempt int) time.Duration {
	exp := attempt
	if exp > capExponent {
		exp = capExponent
	}
	if exp < 0 {
		exp = 0
	}
	return time.Duration(1<<uint(exp)) * time.Second
}

// Wait returns BaseWait plus a uniformly random jitter in [0,1)s. The jitter
// desynchronizes concurrent callers that were throttled at the same moment.
func Wait(attempt int) time.Duration {
	return BaseWait(attempt) + time.Duration(rand.Int63n(int64(time.Second)))
}

// Policy runs calls against a rate-limited service, sleeping and rotating
// credentials on quota errors. Non-quota errors propagate immediately: within
// a single call they are assumed non-recoverable, and the caller decides
// whether a higher-level retry applies.
type Policy struct {
	Pool           *CredentialPool
	AttemptsPerKey int

	// Sleep is replaceable in tests. It must honor ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a Policy with the default context-aware sleep.
func NewPolicy(pool *CredentialPool, attemptsPerKey int) *Policy {
	if attemptsPerKey <= 0 {
		attemptsPerKey = 3
	}
	return &Policy{
		Pool:           pool,
		AttemptsPerKey: attemptsPerKey,
		Sleep:          sleepCtx,
	}
}

// Run invokes fn with the current credential, retrying on ErrQuotaExceeded
// with a backoff sleep and a credential rotation between attempts. The total
// attempt budget is AttemptsPerKey * pool size; once spent, the last error is
// wrapped in ErrHardExhaustion.
func (p *Policy) Run(ctx context.Context, fn func(key string) error) error {
	maxAttempts := p.AttemptsPerKey * p.Pool.Size()
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(p.Pool.Current())
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrQuotaExceeded) {
			return lastErr
		}

		if err := p.Sleep(ctx, Wait(attempt)); err != nil {
			return err
		}
		p.Pool.Rotate()
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrHardExhaustion, maxAttempts, lastErr)
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
