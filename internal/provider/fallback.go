package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// withFallback wraps a primary Provider and retries stream opens on any
// error with a fallback. Transient primary errors (429/5xx) are retried
// in place before the fallback is consulted.
type withFallback struct {
	primary  Provider
	fallback Provider
	retry    retrypolicy.RetryPolicy[*Stream]
}

// WithFallback chains a fallback provider after primary. fallback may be
// nil, in which case only the transient-retry policy applies.
func WithFallback(primary, fallback Provider) Provider {
	retry := retrypolicy.NewBuilder[*Stream]().
		HandleIf(func(_ *Stream, err error) bool { return IsTransient(err) }).
		WithDelay(500 * time.Millisecond).
		WithMaxRetries(2).
		Build()
	return &withFallback{primary: primary, fallback: fallback, retry: retry}
}

// Name identifies the primary adapter.
func (w *withFallback) Name() string { return w.primary.Name() }

// Open tries the primary provider; on any error tries the fallback.
func (w *withFallback) Open(ctx context.Context, req Request) (*Stream, error) {
	stream, err := failsafe.With(w.retry).Get(func() (*Stream, error) {
		return w.primary.Open(ctx, req)
	})
	if err == nil {
		return stream, nil
	}

	if w.fallback == nil {
		return nil, err
	}

	slog.Warn("primary provider failed, trying fallback",
		slog.String("primary", w.primary.Name()),
		slog.String("fallback", w.fallback.Name()),
		slog.String("error", err.Error()),
		slog.Bool("auth_error", isAuthError(err)))

	stream, fallbackErr := w.fallback.Open(ctx, req)
	if fallbackErr != nil {
		return nil, fallbackErr
	}
	return stream, nil
}

// isAuthError returns true if err is a 401 or 403 ProviderError.
func isAuthError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.IsAuth()
}
