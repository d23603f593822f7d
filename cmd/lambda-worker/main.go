package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/vriksha-code/verisure/internal/bootstrap"
	"github.com/vriksha-code/verisure/internal/shared/config"
	"github.com/vriksha-code/verisure/internal/shared/metrics"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
	"github.com/vriksha-code/verisure/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	telemetry.Configure(telemetry.Options{Env: cfg.Env, Level: cfg.LogLevel, Format: cfg.LogFormat})
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"err": initErr})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}

	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		err := workerproc.HandleMessage(ctx, app.Service, record.Body)
		switch {
		case err == nil:
			metrics.IncWorkerJob("ok")
		case workerproc.Unrecoverable(err):
			// Reporting success drops the message; redelivery cannot fix it.
			telemetry.Error("worker.submission.dropped", map[string]any{"sqs_message_id": record.MessageId, "err": err.Error()})
			metrics.IncWorkerJob("dropped")
		default:
			telemetry.Error("worker.submission.failed", map[string]any{"sqs_message_id": record.MessageId, "err": err.Error()})
			metrics.IncWorkerJob("retry")
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func main() {
	lambda.Start(handler)
}
