package submissions

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// applyPatch merges p into rec. Every store funnels updates through here so
// the status machine holds regardless of backend.
func applyPatch(rec *Record, p Patch, now time.Time) error {
	next := rec.Status
	if p.Status != nil {
		next = *p.Status
		if !next.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
		}
	}
	touchesOutcome := p.Status != nil || p.Reason != nil || p.ConfidenceScore != nil ||
		p.FailureCode != nil || p.Retryable != nil

	if rec.Status.Terminal() && touchesOutcome {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, rec.Status)
	}
	if next.rank() < rec.Status.rank() {
		return fmt.Errorf("%w: %s->%s", ErrInvalidTransition, rec.Status, next)
	}

	if next.Terminal() && !rec.Status.Terminal() {
		if p.Reason == nil || strings.TrimSpace(*p.Reason) == "" {
			return fmt.Errorf("%w: terminal status requires a reason", ErrInvalidPatch)
		}
	} else if p.Reason != nil || p.ConfidenceScore != nil || p.FailureCode != nil || p.Retryable != nil {
		return fmt.Errorf("%w: outcome fields require a terminal status", ErrInvalidPatch)
	}
	if p.ConfidenceScore != nil {
		c := *p.ConfidenceScore
		if math.IsNaN(c) || c < 0 || c > 1 {
			return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidPatch, c)
		}
	}

	if err := setOnce(&rec.DocumentPayload, p.DocumentPayload, "documentPayload"); err != nil {
		return err
	}
	if err := setOnce(&rec.StorageKey, p.StorageKey, "storageKey"); err != nil {
		return err
	}
	if err := setOnce(&rec.DocumentURL, p.DocumentURL, "documentUrl"); err != nil {
		return err
	}

	rec.Status = next
	if p.Reason != nil {
		rec.Reason = strings.TrimSpace(*p.Reason)
	}
	if p.ConfidenceScore != nil {
		c := *p.ConfidenceScore
		rec.ConfidenceScore = &c
	}
	if p.FailureCode != nil {
		rec.FailureCode = *p.FailureCode
	}
	if p.Retryable != nil {
		rec.Retryable = *p.Retryable
	}
	if p.PageCount != nil {
		rec.PageCount = *p.PageCount
	}
	rec.UpdatedAt = now
	return nil
}

func setOnce(dst *string, val *string, field string) error {
	if val == nil {
		return nil
	}
	if *dst != "" && *dst != *val {
		return fmt.Errorf("%w: %s", ErrImmutableField, field)
	}
	*dst = *val
	return nil
}

// StatusPatch is a convenience for a bare status move.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

// VerdictPatch builds the single atomic terminal update.
func VerdictPatch(s Status, reason string, confidence *float64) Patch {
	p := Patch{Status: &s, Reason: &reason}
	if confidence != nil {
		c := *confidence
		p.ConfidenceScore = &c
	}
	return p
}

// FailurePatch builds the terminal update for a workflow failure.
func FailurePatch(reason, code string, retryable bool) Patch {
	s := StatusRejected
	return Patch{Status: &s, Reason: &reason, FailureCode: &code, Retryable: &retryable}
}
