// Package oracle defines the contract with the external verification oracle:
// one encoded document in, one verdict (or an OracleError) out.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vriksha-code/verisure/internal/doctype"
)

// Status is a terminal verification outcome reported by the oracle.
type Status string

const (
	StatusVerified             Status = "verified"
	StatusRejected             Status = "rejected"
	StatusRequiresManualReview Status = "requires_manual_review"
)

// ParseStatus normalizes provider spellings ("Verified", "manual_review", ...).
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(raw, " ", "_"))) {
	case "verified", "valid", "approved":
		return StatusVerified, true
	case "rejected", "invalid", "denied":
		return StatusRejected, true
	case "requires_manual_review", "manual_review", "needs_review", "review":
		return StatusRequiresManualReview, true
	default:
		return "", false
	}
}

// Request is a single verification call.
type Request struct {
	// Payload is a data URI embedding the media type.
	Payload      string
	DocumentType doctype.Type
	// Task is required for doctype.Other; optional otherwise.
	Task string
}

// Verdict is the oracle's structured answer.
type Verdict struct {
	Status          Status   `json:"status"`
	Reason          string   `json:"reason"`
	ConfidenceScore *float64 `json:"confidenceScore,omitempty"`
}

// Validate checks the verdict invariants the workflow relies on.
func (v Verdict) Validate() error {
	switch v.Status {
	case StatusVerified, StatusRejected, StatusRequiresManualReview:
	default:
		return fmt.Errorf("verdict status %q is not terminal", v.Status)
	}
	if strings.TrimSpace(v.Reason) == "" {
		return errors.New("verdict reason is empty")
	}
	if v.ConfidenceScore != nil {
		c := *v.ConfidenceScore
		if c < 0 || c > 1 || c != c {
			return fmt.Errorf("verdict confidence %v outside [0,1]", c)
		}
	}
	return nil
}

// Client is implemented by every verification backend. Implementations do not
// retry; the caller owns the retry policy.
type Client interface {
	Verify(ctx context.Context, req Request) (Verdict, error)
}

// Kind classifies an oracle failure.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindTimeout     Kind = "timeout"
	KindMalformed   Kind = "malformed"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Error is the OracleError of the verification contract.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "oracle " + string(e.Kind)
	}
	return fmt.Sprintf("oracle %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a second attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindTimeout
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// AsError extracts an *Error from err, classifying bare context errors.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}, true
	}
	return nil, false
}

// ErrNotConfigured is returned by the placeholder client.
var ErrNotConfigured = errors.New("verification oracle not configured")

// PlaceholderClient stands in until a provider is configured; every call fails
// as unavailable so submissions reconcile to a terminal status.
type PlaceholderClient struct{}

// Verify returns an unavailable OracleError.
func (PlaceholderClient) Verify(ctx context.Context, req Request) (Verdict, error) {
	_ = ctx
	_ = req
	return Verdict{}, &Error{Kind: KindUnavailable, Err: ErrNotConfigured}
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req Request) (Verdict, error)

// Verify calls f.
func (f Func) Verify(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}
