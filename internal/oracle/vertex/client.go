// Package vertex implements the verification oracle on Gemini via Vertex AI.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vriksha-code/verisure/internal/datauri"
	"github.com/vriksha-code/verisure/internal/oracle"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

const (
	defaultModel = "gemini-1.5-flash"
	systemPrompt = "You are a document verification assistant for university admissions. You only answer with the requested JSON object."
)

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client implements oracle.Client on a Gemini generative model.
type Client struct {
	model generator
	name  string
	base  *genai.Client
}

// NewClient connects to Vertex AI in the given project and region.
func NewClient(ctx context.Context, projectID, region, model string) (*Client, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("vertex: projectID and region cannot be empty")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	base, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	gm := base.GenerativeModel(model)
	gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	gm.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	return &Client{model: gm, name: model, base: base}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

// Verify sends the decoded image inline together with the rendered prompt.
func (c *Client) Verify(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	doc, err := datauri.Decode(req.Payload)
	if err != nil {
		return oracle.Verdict{}, &oracle.Error{Kind: oracle.KindInternal, Err: err}
	}

	resp, err := c.model.GenerateContent(ctx,
		genai.Blob{MIMEType: doc.MediaType, Data: doc.Data},
		genai.Text(oracle.BuildPrompt(req.DocumentType, req.Task)),
	)
	if err != nil {
		return oracle.Verdict{}, classify(err)
	}
	logUsage(c.name, resp)
	return oracle.ParseVerdict(responseText(resp))
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &oracle.Error{Kind: oracle.KindTimeout, Err: err}
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return &oracle.Error{Kind: oracle.KindTimeout, Err: err}
		case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
			return &oracle.Error{Kind: oracle.KindTransport, Err: err}
		}
	}
	return &oracle.Error{Kind: oracle.KindInternal, Err: err}
}

func logUsage(model string, resp *genai.GenerateContentResponse) {
	fields := map[string]any{
		"provider":       "vertex",
		"model":          model,
		"prompt_version": oracle.PromptVersion,
	}
	if resp != nil && resp.UsageMetadata != nil {
		fields["prompt_tokens"] = resp.UsageMetadata.PromptTokenCount
		fields["completion_tokens"] = resp.UsageMetadata.CandidatesTokenCount
		fields["total_tokens"] = resp.UsageMetadata.TotalTokenCount
	}
	telemetry.Info("oracle.usage", fields)
}

var _ oracle.Client = (*Client)(nil)
