// Package mcp implements the Model Context Protocol (MCP) server that
// exposes a workspace index to AI clients.
package mcp

import (
	"context"
	"errors"
	"fmt"

	ierrors "github.com/swissarmyhammer/swissarmyhammer-sub028/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeNotReady indicates the first indexing pass has not finished.
	ErrCodeNotReady = -32001

	// ErrCodeEmbeddingFailed indicates the query could not be embedded.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeStorage indicates the index store could not be read.
	ErrCodeStorage = -32004

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// NotReadyMessage is returned to clients that query before the index is
// ready.
const NotReadyMessage = "Index is not ready yet: the first indexing pass is still running. " +
	"Poll index_status until ready is true, then retry."

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var ie *ierrors.IndexError
	if errors.As(err, &ie) {
		return mapIndexError(ie)
	}
	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapIndexError(ie *ierrors.IndexError) *MCPError {
	message := ie.Message
	if ie.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ie.Message, ie.Suggestion)
	}

	switch ie.Code {
	case ierrors.ErrCodeNotReady:
		return &MCPError{Code: ErrCodeNotReady, Message: NotReadyMessage}
	case ierrors.ErrCodeEmbeddingFailed:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	}

	switch ie.Category {
	case ierrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case ierrors.CategoryStorage:
		return &MCPError{Code: ErrCodeStorage, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
