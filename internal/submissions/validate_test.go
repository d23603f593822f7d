package submissions

import (
	"errors"
	"strings"
	"testing"

	"github.com/vriksha-code/verisure/internal/doctype"
)

func validSubmission() Submission {
	return Submission{
		OwnerID:      "guest:g1",
		SubmittedBy:  "Asha",
		FileName:     "plan.png",
		Body:         strings.NewReader("png"),
		Size:         3,
		MediaType:    "image/png",
		DocumentType: "floor_plan",
	}
}

func TestValidateSubmissionFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		field  string
	}{
		{name: "missing owner", mutate: func(s *Submission) { s.OwnerID = " " }, field: "ownerId"},
		{name: "not onboarded", mutate: func(s *Submission) { s.SubmittedBy = "" }, field: "submittedBy"},
		{name: "no file", mutate: func(s *Submission) { s.Body = nil }, field: "file"},
		{name: "empty file", mutate: func(s *Submission) { s.Size = 0 }, field: "file"},
		{name: "six megabytes", mutate: func(s *Submission) { s.Size = 6 << 20 }, field: "file"},
		{name: "unsupported type", mutate: func(s *Submission) { s.MediaType = "text/plain" }, field: "file"},
		{name: "no document type", mutate: func(s *Submission) { s.DocumentType = "" }, field: "documentType"},
		{name: "unknown document type", mutate: func(s *Submission) { s.DocumentType = "passport" }, field: "documentType"},
		{name: "short task for other", mutate: func(s *Submission) { s.DocumentType = "other"; s.Task = "  sign  " }, field: "verificationTask"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission()
			tt.mutate(&sub)
			_, err := validateSubmission(sub)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("expected field %q, got %q (%s)", tt.field, verr.Field, verr.Message)
			}
		})
	}
}

func TestValidateSubmissionNormalizes(t *testing.T) {
	sub := validSubmission()
	sub.MediaType = "image/jpg"
	sub.DocumentType = "Floor Plan"
	n, err := validateSubmission(sub)
	if err != nil {
		t.Fatalf("validateSubmission: %v", err)
	}
	if n.mediaType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", n.mediaType)
	}
	if n.documentType != doctype.FloorPlan {
		t.Fatalf("expected floor_plan, got %q", n.documentType)
	}
}

func TestValidateSubmissionExactLimitAccepted(t *testing.T) {
	sub := validSubmission()
	sub.Size = MaxUploadBytes
	if _, err := validateSubmission(sub); err != nil {
		t.Fatalf("5 MB should be accepted: %v", err)
	}
}

func TestValidateSubmissionOtherTask(t *testing.T) {
	sub := validSubmission()
	sub.DocumentType = "other"
	sub.Task = "  Check the stamp is present  "
	n, err := validateSubmission(sub)
	if err != nil {
		t.Fatalf("validateSubmission: %v", err)
	}
	if n.task != "Check the stamp is present" {
		t.Fatalf("expected trimmed task, got %q", n.task)
	}
}

func TestValidateSubmissionAcceptsDocuments(t *testing.T) {
	for _, mt := range []string{mediaPDF, mediaDOC, mediaDOCX, mediaWEBP} {
		sub := validSubmission()
		sub.MediaType = mt
		if _, err := validateSubmission(sub); err != nil {
			t.Errorf("%s: %v", mt, err)
		}
	}
}
