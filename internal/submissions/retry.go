package submissions

import (
	"context"
	"time"

	"github.com/vriksha-code/verisure/internal/oracle"
	"github.com/vriksha-code/verisure/internal/shared/metrics"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

const oracleRetryBaseDelay = 300 * time.Millisecond

// retryingOracle makes at most one extra attempt for transport and timeout
// failures. The oracle clients themselves never retry.
type retryingOracle struct {
	base         oracle.Client
	delay        time.Duration
	requestID    string
	submissionID string
}

func newRetryingOracle(base oracle.Client, delay time.Duration, submissionID, requestID string) oracle.Client {
	if delay <= 0 {
		delay = oracleRetryBaseDelay
	}
	return retryingOracle{base: base, delay: delay, requestID: requestID, submissionID: submissionID}
}

func (r retryingOracle) Verify(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	v, err := r.attempt(ctx, req)
	if err == nil || !shouldRetryOracle(err) {
		return v, err
	}

	telemetry.Warn("oracle.retry", map[string]any{
		"attempt":       1,
		"request_id":    r.requestID,
		"submission_id": r.submissionID,
		"err":           sanitizeError(err),
	})
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return oracle.Verdict{}, &oracle.Error{Kind: oracle.KindTimeout, Err: ctx.Err()}
	}
	return r.attempt(ctx, req)
}

func (r retryingOracle) attempt(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	start := time.Now()
	v, err := r.base.Verify(ctx, req)
	outcome := "ok"
	if oe, ok := oracle.AsError(err); ok {
		outcome = string(oe.Kind)
	} else if err != nil {
		outcome = string(oracle.KindInternal)
	}
	metrics.ObserveOracleDuration(outcome, time.Since(start))
	return v, err
}

func shouldRetryOracle(err error) bool {
	oe, ok := oracle.AsError(err)
	return ok && oe.Retryable()
}
