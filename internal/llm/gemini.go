package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// GeminiClient calls the Gemini API. It implements Client.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewGeminiClient creates a Gemini-backed client. defaultModel is used for
// requests that do not name a model.
func NewGeminiClient(ctx context.Context, apiKey, defaultModel string, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client:       client,
		defaultModel: defaultModel,
		logger:       logger,
	}, nil
}

// Generate runs one model call. Structured requests set the response MIME
// type to JSON so the returned text is directly parseable.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.Schema
	}
	if req.Temperature >= 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model,
		genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content (%s): %w", model, err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("generate content (%s): empty response", model)
	}

	out := &Response{Text: text, Model: model}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	c.logger.Debug("gemini call complete",
		"model", model,
		"operation", req.Operation,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens)
	return out, nil
}
