package mcp

import (
	"errors"
	"fmt"

	"github.com/mbaxszy7/mnemora/internal/domain/thread"
	"github.com/mbaxszy7/mnemora/internal/repository"
)

// APIError represents an MCP error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError maps domain errors to MCP error codes.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, thread.ErrThreadNotFound):
		return &APIError{Code: "THREAD_NOT_FOUND", Message: "thread not found", RecoveryHint: "Check ID spelling"}
	case errors.Is(err, thread.ErrInvalidTransition):
		return &APIError{Code: "INVALID_TRANSITION", Message: "invalid status transition", RecoveryHint: "Closed threads cannot change status"}
	default:
		return nil
	}
}

// mapToolError wraps a domain error for the tool response.
func mapToolError(err error) error {
	if apiErr := MapError(err); apiErr != nil {
		return apiErr
	}
	return err
}
