// Package workerproc decodes queued verification jobs and runs them. It is
// shared by the long-polling worker and the Lambda SQS handler.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/vriksha-code/verisure/internal/queue"
	"github.com/vriksha-code/verisure/internal/submissions"
)

// Processor verifies one stored submission.
type Processor interface {
	Process(ctx context.Context, submissionID string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingSubmissionID indicates a message without a submission id.
type ErrMissingSubmissionID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingSubmissionID) Error() string { return "missing submission id" }

// ErrProcess indicates processing failed after successful parsing. The
// message should be left for redelivery.
type ErrProcess struct {
	SubmissionID string
	RequestID    string
	Err          error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process submission"
	}
	return "process submission: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether redelivering the message cannot help.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingSubmissionID
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.SubmissionID) == "" {
		return msg, meta, ErrMissingSubmissionID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// HandleMessage parses, validates, and processes a message payload.
func HandleMessage(ctx context.Context, proc Processor, body string) error {
	if proc == nil {
		return errors.New("submission processor not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return Handle(ctx, proc, msg)
}

// Handle processes an already decoded message.
func Handle(ctx context.Context, proc Processor, msg queue.Message) error {
	if strings.TrimSpace(msg.SubmissionID) == "" {
		return ErrMissingSubmissionID{RequestID: msg.RequestID}
	}
	ctxWithRequest := submissions.WithRequestID(ctx, msg.RequestID)
	if err := proc.Process(ctxWithRequest, msg.SubmissionID); err != nil {
		return ErrProcess{SubmissionID: msg.SubmissionID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
