package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
)

// retryDelays is the backoff schedule generalised from a fixed 429-only
// retry into one shared by every external dependency classified
// apperr.KindTransientExternal (embeddings, reranker, LLM).
var retryDelays = []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

// withRetry executes fn up to len(retryDelays)+1 times, retrying only while
// the returned error is classified apperr.KindTransientExternal.
func withRetry[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	result, err := fn()
	if err == nil || !apperr.Is(err, apperr.KindTransientExternal) {
		return result, err
	}

	for i, delay := range retryDelays {
		slog.Warn("retrying transient external failure",
			"operation", operation, "attempt", i+2, "delay_ms", delay.Milliseconds(), "error", err)

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("%s: context cancelled during retry: %w", operation, ctx.Err())
		case <-time.After(delay):
		}

		result, err = fn()
		if err == nil {
			slog.Info("retry succeeded", "operation", operation, "attempt", i+2)
			return result, nil
		}
		if !apperr.Is(err, apperr.KindTransientExternal) {
			return result, err
		}
	}

	var zero T
	slog.Error("retries exhausted", "operation", operation, "attempts", len(retryDelays)+1)
	return zero, err
}
