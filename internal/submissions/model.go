package submissions

import (
	"time"

	"github.com/vriksha-code/verisure/internal/doctype"
)

// Status is the lifecycle state of a submission record.
type Status string

const (
	StatusPending              Status = "pending"
	StatusAnalyzing            Status = "analyzing"
	StatusVerified             Status = "verified"
	StatusRejected             Status = "rejected"
	StatusRequiresManualReview Status = "requires_manual_review"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerified, StatusRejected, StatusRequiresManualReview:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Label is the display text for a status.
func (s Status) Label() string {
	switch s {
	case StatusVerified:
		return "Verified"
	case StatusRejected:
		return "Rejected"
	case StatusRequiresManualReview:
		return "Manual Review"
	case StatusAnalyzing:
		return "Analyzing..."
	case StatusPending:
		return "Pending"
	default:
		return string(s)
	}
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAnalyzing:
		return 1
	case StatusVerified, StatusRejected, StatusRequiresManualReview:
		return 2
	default:
		return -1
	}
}

// Record is one user submission and its verification outcome.
type Record struct {
	ID               string       `json:"id" firestore:"id"`
	OwnerID          string       `json:"ownerId" firestore:"ownerId"`
	FileName         string       `json:"fileName" firestore:"fileName"`
	FileType         string       `json:"fileType" firestore:"fileType"`
	FileSizeBytes    int64        `json:"fileSizeBytes" firestore:"fileSizeBytes"`
	DocumentPayload  string       `json:"documentPayload,omitempty" firestore:"documentPayload,omitempty"`
	DocumentURL      string       `json:"documentUrl,omitempty" firestore:"documentUrl,omitempty"`
	StorageKey       string       `json:"storageKey,omitempty" firestore:"storageKey,omitempty"`
	DocumentType     doctype.Type `json:"documentType" firestore:"documentType"`
	VerificationTask string       `json:"verificationTask,omitempty" firestore:"verificationTask,omitempty"`
	Status           Status       `json:"status" firestore:"status"`
	Reason           string       `json:"reason,omitempty" firestore:"reason,omitempty"`
	ConfidenceScore  *float64     `json:"confidenceScore,omitempty" firestore:"confidenceScore,omitempty"`
	FailureCode      string       `json:"failureCode,omitempty" firestore:"failureCode,omitempty"`
	Retryable        bool         `json:"retryable,omitempty" firestore:"retryable,omitempty"`
	PageCount        int          `json:"pageCount,omitempty" firestore:"pageCount,omitempty"`
	SubmittedAt      time.Time    `json:"submittedAt" firestore:"submittedAt"`
	SubmittedBy      string       `json:"submittedBy" firestore:"submittedBy"`
	Seq              int64        `json:"seq" firestore:"seq"`
	UpdatedAt        time.Time    `json:"updatedAt" firestore:"updatedAt"`
}

// Stub carries the immutable fields of a new record; the store assigns the rest.
type Stub struct {
	OwnerID          string
	FileName         string
	FileType         string
	FileSizeBytes    int64
	DocumentType     doctype.Type
	VerificationTask string
	SubmittedBy      string
	Status           Status
}

// Patch lists the mutable fields of a record. Nil fields are left unchanged.
type Patch struct {
	Status          *Status
	Reason          *string
	ConfidenceScore *float64
	DocumentPayload *string
	DocumentURL     *string
	StorageKey      *string
	FailureCode     *string
	Retryable       *bool
	PageCount       *int
}

// ListOptions scopes a listing. Limit <= 0 returns every record.
type ListOptions struct {
	OwnerID string
	Limit   int
	Offset  int
}

func (s Stub) record(id string, seq int64, now time.Time) Record {
	status := s.Status
	if status == "" {
		status = StatusAnalyzing
	}
	return Record{
		ID:               id,
		OwnerID:          s.OwnerID,
		FileName:         s.FileName,
		FileType:         s.FileType,
		FileSizeBytes:    s.FileSizeBytes,
		DocumentType:     s.DocumentType,
		VerificationTask: s.VerificationTask,
		SubmittedBy:      s.SubmittedBy,
		Status:           status,
		SubmittedAt:      now,
		Seq:              seq,
		UpdatedAt:        now,
	}
}
