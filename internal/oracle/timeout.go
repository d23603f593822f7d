package oracle

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a single oracle call when none is configured.
const DefaultTimeout = 60 * time.Second

type timeoutClient struct {
	base    Client
	timeout time.Duration
}

// WithTimeout bounds every call to base. Deadline expiry surfaces as a
// KindTimeout error even when base returns a bare context error.
func WithTimeout(base Client, d time.Duration) Client {
	if d <= 0 {
		d = DefaultTimeout
	}
	return timeoutClient{base: base, timeout: d}
}

func (c timeoutClient) Verify(ctx context.Context, req Request) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err := c.base.Verify(ctx, req)
	if err == nil {
		return v, nil
	}
	if oe, ok := AsError(err); ok {
		if oe.Kind != KindTimeout && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Verdict{}, &Error{Kind: KindTimeout, Err: err}
		}
		return Verdict{}, oe
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Verdict{}, &Error{Kind: KindTimeout, Err: err}
	}
	return Verdict{}, &Error{Kind: KindInternal, Err: err}
}
