// Package llm wraps the reasoning model behind a small client interface so
// domain code stays independent of the provider SDK.
package llm

import (
	"context"

	"google.golang.org/genai"
)

// Schema describes the expected shape of a structured response. It is the
// provider's schema type; callers build it through the re-exported Type
// constants below and never import the SDK directly.
type Schema = genai.Schema

// Re-exported schema types for building response schemas.
const (
	TypeObject  = genai.TypeObject
	TypeArray   = genai.TypeArray
	TypeString  = genai.TypeString
	TypeInteger = genai.TypeInteger
	TypeNumber  = genai.TypeNumber
	TypeBoolean = genai.TypeBoolean
)

// Request is one reasoning call.
type Request struct {
	// Model overrides the client's default model when non-empty.
	Model string
	// System is the system instruction.
	System string
	// Prompt is the user-turn content.
	Prompt string
	// Schema, when set, constrains the response to structured JSON.
	Schema *Schema
	// Temperature applies when non-negative.
	Temperature float32
	// Operation labels the call for usage accounting and traces.
	Operation string
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the model output for one call.
type Response struct {
	Text  string
	Usage Usage
	Model string
}

// Client is a reasoning model. Implementations must be safe for concurrent
// use.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
