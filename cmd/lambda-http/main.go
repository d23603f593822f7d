package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http
//
// The event stream endpoint needs a long-lived connection and is not served
// through API Gateway; clients behind Lambda poll GET /api/v1/submissions.

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"github.com/vriksha-code/verisure/internal/bootstrap"
	"github.com/vriksha-code/verisure/internal/shared/config"
	"github.com/vriksha-code/verisure/internal/shared/server/respond"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

var (
	initOnce sync.Once
	initErr  error
	proxy    *ginadapter.GinLambdaV2
)

func coldStart() {
	cfg := config.Load()
	telemetry.Configure(telemetry.Options{Env: cfg.Env, Level: cfg.LogLevel, Format: cfg.LogFormat})
	app, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	proxy = ginadapter.NewV2(app.Router)
	telemetry.Info("lambda.http.cold_start", map[string]any{
		"record_store": cfg.RecordStore,
		"queue":        app.Queue != nil,
	})
}

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	initOnce.Do(coldStart)
	if initErr != nil || proxy == nil {
		telemetry.Error("lambda.http.bootstrap_failed", map[string]any{"err": initErr})
		return errorResponse("bootstrap failed"), nil
	}
	return proxy.ProxyWithContext(ctx, req)
}

// errorResponse mirrors the router's error envelope so clients parse one shape.
func errorResponse(message string) events.APIGatewayV2HTTPResponse {
	body, _ := json.Marshal(respond.ErrorResponse{
		Error: respond.ErrorBody{Code: "internal_error", Message: message},
	})
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func main() {
	lambda.Start(handler)
}
