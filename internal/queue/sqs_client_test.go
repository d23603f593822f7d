package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type fakeSender struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	return &sqs.SendMessageOutput{}, f.err
}

func TestSQSClientSendStandardQueue(t *testing.T) {
	fake := &fakeSender{}
	c := newSQSClient(fake, "https://sqs.example/verify")
	if err := c.Send(context.Background(), Message{SubmissionID: "s1", RequestID: "r1", Version: MessageVersion}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if aws.ToString(fake.input.QueueUrl) != "https://sqs.example/verify" {
		t.Fatalf("unexpected queue url %q", aws.ToString(fake.input.QueueUrl))
	}
	msg, err := DecodeMessage([]byte(aws.ToString(fake.input.MessageBody)))
	if err != nil || msg.SubmissionID != "s1" {
		t.Fatalf("unexpected body %q (%v)", aws.ToString(fake.input.MessageBody), err)
	}
	if fake.input.MessageGroupId != nil {
		t.Fatalf("standard queues must not carry a group id")
	}
	if got := aws.ToString(fake.input.MessageAttributes["requestId"].StringValue); got != "r1" {
		t.Fatalf("expected requestId attribute, got %q", got)
	}
}

func TestSQSClientSendFIFOGroupsBySubmission(t *testing.T) {
	fake := &fakeSender{}
	c := newSQSClient(fake, "https://sqs.example/verify.fifo")
	if err := c.Send(context.Background(), Message{SubmissionID: "s2", Version: MessageVersion}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if aws.ToString(fake.input.MessageGroupId) != "s2" || aws.ToString(fake.input.MessageDeduplicationId) != "s2" {
		t.Fatalf("expected group and dedup id s2, got %q / %q",
			aws.ToString(fake.input.MessageGroupId), aws.ToString(fake.input.MessageDeduplicationId))
	}
	if _, ok := fake.input.MessageAttributes["requestId"]; ok {
		t.Fatalf("empty request id must not be sent as an attribute")
	}
}

func TestSQSClientSendErrors(t *testing.T) {
	c := newSQSClient(&fakeSender{err: errors.New("throttled")}, "q")
	if err := c.Send(context.Background(), Message{SubmissionID: "s1"}); err == nil {
		t.Fatal("expected send error")
	}
	if err := newSQSClient(&fakeSender{}, "q").Send(context.Background(), Message{}); err == nil {
		t.Fatal("expected error for missing submission id")
	}
}

func TestNewSQSClientRequiresURL(t *testing.T) {
	if _, err := NewSQSClient(context.Background(), "", " "); !errors.Is(err, ErrNoQueueURL) {
		t.Fatalf("expected ErrNoQueueURL, got %v", err)
	}
}
