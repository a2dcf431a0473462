// Package llm provides the summarization and embedding provider built on
// langchaingo, with failure classification for the retry policy.
package llm

import (
	"context"
	"strings"

	"github.com/ljutzkanovltd/codeharvest/internal/retry"
)

// Provider supplies LLM summarization and embedding generation.
type Provider interface {
	// Summarize produces a short natural-language summary of a code block.
	Summarize(ctx context.Context, code, contextWindow string) (string, error)

	// Embed generates an embedding vector for text. The vector length
	// always equals Dimension().
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector width. It must match one of
	// the store's vector columns.
	Dimension() int
}

// authErrorMarkers identify provider responses that no retry can fix until
// credentials or billing are reconfigured.
var authErrorMarkers = []string{
	"credit balance",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

var rateLimitMarkers = []string{
	"rate limit",
	"too many requests",
	"429",
	"overloaded",
}

// classifyProviderError wraps a provider failure with its retry kind:
// auth/billing problems are permanent, rate limits are transient with a
// longer backoff, everything else stays unclassified (transient).
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range authErrorMarkers {
		if strings.Contains(msg, marker) {
			return retry.NewError(retry.KindProviderAuth, err)
		}
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return retry.NewError(retry.KindRateLimit, err)
		}
	}
	return err
}
