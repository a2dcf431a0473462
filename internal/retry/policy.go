package retry

import (
	"time"
)

// Policy computes backoff schedules and escalation decisions.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy returns the stock exponential backoff: 2s base, 2x growth,
// capped at 5 minutes.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  2 * time.Second,
		MaxDelay:   5 * time.Minute,
		Multiplier: 2.0,
	}
}

// NextRetryAt returns when a failed item becomes claimable again, given how
// many retries it has already consumed. Rate-limit failures get one extra
// exponent step so hammered providers cool off longer.
func (p Policy) NextRetryAt(now time.Time, retryCount int, kind Kind) time.Time {
	return now.Add(p.Backoff(retryCount, kind))
}

// Backoff computes the delay before retry number retryCount+1.
func (p Policy) Backoff(retryCount int, kind Kind) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2.0
	}

	steps := retryCount
	if kind == KindRateLimit {
		steps++
	}
	for i := 0; i < steps; i++ {
		delay = time.Duration(float64(delay) * mult)
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Decision is the outcome of applying the policy to one failure.
type Decision struct {
	Kind Kind
	// Retry is true when the item should go back to the queue after the
	// backoff expires.
	Retry bool
	// HumanReview is true when the item must be escalated for triage.
	HumanReview bool
	// NextRetryAt is set only when Retry is true.
	NextRetryAt time.Time
}

// OnFailure decides what happens to an item after a failure. Permanent
// errors and retry exhaustion escalate to human review; everything else
// schedules another attempt. retryCount is the count before this failure.
func (p Policy) OnFailure(now time.Time, err error, retryCount, maxRetries int) Decision {
	kind := Classify(err)

	if kind.Permanent() || retryCount+1 >= maxRetries {
		return Decision{Kind: kind, HumanReview: true}
	}

	return Decision{
		Kind:        kind,
		Retry:       true,
		NextRetryAt: p.NextRetryAt(now, retryCount, kind),
	}
}
