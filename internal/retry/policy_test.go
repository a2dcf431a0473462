package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindTransience(t *testing.T) {
	transient := []Kind{KindNetwork, KindTimeout, KindRateLimit, KindUnknown}
	for _, k := range transient {
		assert.True(t, k.Transient(), "%s should be transient", k)
		assert.False(t, k.Permanent(), "%s should not be permanent", k)
	}

	permanent := []Kind{KindParseError, KindValidation, KindProviderAuth}
	for _, k := range permanent {
		assert.True(t, k.Permanent(), "%s should be permanent", k)
		assert.False(t, k.Transient(), "%s should not be transient", k)
	}

	// encoding_error neither retries nor escalates: the pipeline degrades
	// the affected record instead.
	assert.False(t, KindEncoding.Transient())
	assert.False(t, KindEncoding.Permanent())
}

func TestClassify(t *testing.T) {
	wrapped := fmt.Errorf("fetch page: %w", NewError(KindRateLimit, errors.New("429")))
	assert.Equal(t, KindRateLimit, Classify(wrapped))

	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, Classify(fmt.Errorf("phase: %w", context.DeadlineExceeded)))

	assert.Equal(t, KindUnknown, Classify(errors.New("something odd")))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, 2*time.Second, p.Backoff(0, KindTimeout))
	assert.Equal(t, 4*time.Second, p.Backoff(1, KindTimeout))
	assert.Equal(t, 8*time.Second, p.Backoff(2, KindTimeout))

	// Rate limits cool off one exponent step longer.
	assert.Equal(t, 4*time.Second, p.Backoff(0, KindRateLimit))

	assert.Equal(t, 5*time.Minute, p.Backoff(20, KindTimeout), "delay must cap at MaxDelay")
}

func TestBackoffDefaultsWhenUnset(t *testing.T) {
	var p Policy
	d := p.Backoff(1, KindNetwork)
	assert.Equal(t, 4*time.Second, d)
}

func TestOnFailureSchedulesTransientRetry(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now()

	d := p.OnFailure(now, NewError(KindNetwork, errors.New("refused")), 0, 3)
	require.True(t, d.Retry)
	assert.False(t, d.HumanReview)
	assert.Equal(t, KindNetwork, d.Kind)
	assert.Equal(t, now.Add(2*time.Second), d.NextRetryAt)
}

func TestOnFailureEscalatesPermanent(t *testing.T) {
	p := DefaultPolicy()

	d := p.OnFailure(time.Now(), NewError(KindValidation, errors.New("404")), 0, 3)
	assert.False(t, d.Retry)
	assert.True(t, d.HumanReview)
}

func TestOnFailureEscalatesOnExhaustion(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now()
	cause := NewError(KindTimeout, errors.New("deadline"))

	// First two failures retry with growing delays.
	first := p.OnFailure(now, cause, 0, 3)
	require.True(t, first.Retry)
	assert.Equal(t, now.Add(2*time.Second), first.NextRetryAt)

	second := p.OnFailure(now, cause, 1, 3)
	require.True(t, second.Retry)
	assert.Equal(t, now.Add(4*time.Second), second.NextRetryAt)

	// The third failure consumes the last attempt.
	third := p.OnFailure(now, cause, 2, 3)
	assert.False(t, third.Retry)
	assert.True(t, third.HumanReview)
	assert.Equal(t, KindTimeout, third.Kind)
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewError(KindNetwork, inner).WithDetails(map[string]any{"host": "example.com"})

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "network")
	assert.Equal(t, "example.com", err.Details["host"])
}
