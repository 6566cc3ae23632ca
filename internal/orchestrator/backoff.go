package orchestrator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/finsight-ai/finsight/internal/config"
)

// Policy is the retry/backoff schedule shared by the classifier pass and the
// per-worker dispatcher: exponential growth from Base by Factor, capped at
// Cap, stretched by up to +Jitter. Jitter is additive only, so a delay never
// undershoots the schedule. The jitter source is seedable so tests are
// deterministic.
type Policy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPolicy builds a Policy with the given schedule and jitter seed.
func NewPolicy(base time.Duration, factor float64, cap time.Duration, jitter float64, seed int64) *Policy {
	return &Policy{
		Base:   base,
		Factor: factor,
		Cap:    cap,
		Jitter: jitter,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// PolicyFromConfig builds the production Policy from process configuration,
// seeded from the clock.
func PolicyFromConfig(cfg config.Config) *Policy {
	return NewPolicy(cfg.BackoffBase, cfg.BackoffFactor, cfg.BackoffCap, cfg.BackoffJitter, time.Now().UnixNano())
}

// Delay returns the backoff before retry number attempt (attempt >= 1 is the
// delay after the first failed attempt).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(p.Factor, float64(attempt-1))
	if capf := float64(p.Cap); p.Cap > 0 && d > capf {
		d = capf
	}
	if p.Jitter > 0 {
		p.mu.Lock()
		// Uniform in [0, +Jitter].
		frac := p.rng.Float64() * p.Jitter
		p.mu.Unlock()
		d += d * frac
	}
	return time.Duration(d)
}

// Sleep blocks for Delay(attempt) or until ctx is done, returning ctx.Err()
// in the latter case.
func (p *Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
