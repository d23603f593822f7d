package submissions

import (
	"errors"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestApplyPatchTransitions(t *testing.T) {
	at := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		from    Status
		patch   Patch
		want    Status
		wantErr error
	}{
		{name: "pending to analyzing", from: StatusPending, patch: StatusPatch(StatusAnalyzing), want: StatusAnalyzing},
		{name: "analyzing to verified", from: StatusAnalyzing, patch: VerdictPatch(StatusVerified, "looks genuine", ptr(0.9)), want: StatusVerified},
		{name: "pending straight to rejected", from: StatusPending, patch: FailurePatch("bad", ErrorCodeStorage, true), want: StatusRejected},
		{name: "analyzing back to pending", from: StatusAnalyzing, patch: StatusPatch(StatusPending), wantErr: ErrInvalidTransition},
		{name: "terminal is frozen", from: StatusVerified, patch: VerdictPatch(StatusRejected, "changed my mind", nil), wantErr: ErrInvalidTransition},
		{name: "terminal needs reason", from: StatusAnalyzing, patch: StatusPatch(StatusVerified), wantErr: ErrInvalidPatch},
		{name: "outcome without terminal", from: StatusAnalyzing, patch: Patch{Reason: ptr("early")}, wantErr: ErrInvalidPatch},
		{name: "confidence out of range", from: StatusAnalyzing, patch: VerdictPatch(StatusVerified, "ok", ptr(1.2)), wantErr: ErrInvalidPatch},
		{name: "unknown status", from: StatusAnalyzing, patch: StatusPatch(Status("done")), wantErr: ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{ID: "r1", Status: tt.from}
			err := applyPatch(&rec, tt.patch, at)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if rec.Status != tt.from {
					t.Fatalf("status changed on rejected patch: %s", rec.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("applyPatch: %v", err)
			}
			if rec.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, rec.Status)
			}
			if !rec.UpdatedAt.Equal(at) {
				t.Fatalf("expected updatedAt to be set")
			}
		})
	}
}

func TestApplyPatchTerminalAllowsPageCountOnly(t *testing.T) {
	rec := Record{Status: StatusRequiresManualReview, Reason: "file type requires manual verification"}
	if err := applyPatch(&rec, Patch{PageCount: ptr(3)}, time.Now()); err != nil {
		t.Fatalf("applyPatch: %v", err)
	}
	if rec.PageCount != 3 || rec.Reason == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestApplyPatchStorageFieldsSetOnce(t *testing.T) {
	rec := Record{Status: StatusPending}
	if err := applyPatch(&rec, Patch{StorageKey: ptr("a/key"), DocumentURL: ptr("http://x/a/key")}, time.Now()); err != nil {
		t.Fatalf("first patch: %v", err)
	}
	if err := applyPatch(&rec, Patch{StorageKey: ptr("a/key")}, time.Now()); err != nil {
		t.Fatalf("same value should be accepted: %v", err)
	}
	err := applyPatch(&rec, Patch{StorageKey: ptr("b/key")}, time.Now())
	if !errors.Is(err, ErrImmutableField) {
		t.Fatalf("expected ErrImmutableField, got %v", err)
	}
	if rec.StorageKey != "a/key" {
		t.Fatalf("storage key overwritten: %q", rec.StorageKey)
	}
}

func TestVerdictPatchCopiesConfidence(t *testing.T) {
	c := 0.5
	p := VerdictPatch(StatusVerified, "ok", &c)
	c = 0.1
	if *p.ConfidenceScore != 0.5 {
		t.Fatalf("expected patch to own its confidence, got %v", *p.ConfidenceScore)
	}
}
