// Package api exposes the peer messenger endpoint as MCP tools and resources.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ihiteshgupta/peer-messenger/internal/endpoint"
	"github.com/ihiteshgupta/peer-messenger/internal/messenger"
	"github.com/ihiteshgupta/peer-messenger/internal/store"
)

// Error codes
const (
	ErrUnknownDestination = "UNKNOWN_DESTINATION"
	ErrInvalidDestination = "INVALID_DESTINATION"
	ErrMessageFailed      = "MESSAGE_FAILED"
	ErrQueueFull          = "QUEUE_FULL"
	ErrNotFound           = "NOT_FOUND"
	ErrInvalidInput       = "INVALID_INPUT"
	ErrEndpointClosed     = "ENDPOINT_CLOSED"
	ErrTimeout            = "TIMEOUT"
	ErrInternal           = "INTERNAL_ERROR"
)

// MCPError represents a structured error for MCP responses.
type MCPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   bool   `json:"retry"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// JSON returns the error as a JSON string.
func (e *MCPError) JSON() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// NewUnknownDestinationError creates an error for a destination without a
// messenger.
func NewUnknownDestinationError(destination string) *MCPError {
	return &MCPError{
		Code:    ErrUnknownDestination,
		Message: fmt.Sprintf("No messenger for destination: %s", destination),
		Retry:   false,
	}
}

// NewInvalidDestinationError creates an error for a malformed destination.
func NewInvalidDestinationError(destination string) *MCPError {
	return &MCPError{
		Code:    ErrInvalidDestination,
		Message: fmt.Sprintf("Invalid destination: %q (want host:port or peer@host:port)", destination),
		Retry:   false,
	}
}

// NewMessageFailedError creates an error for a message that was not sent.
func NewMessageFailedError(err error) *MCPError {
	return &MCPError{
		Code:    ErrMessageFailed,
		Message: fmt.Sprintf("Failed to send message: %s", err.Error()),
		Retry:   true,
	}
}

// NewQueueFullError creates an error for a saturated channel.
func NewQueueFullError(destination string) *MCPError {
	return &MCPError{
		Code:    ErrQueueFull,
		Message: fmt.Sprintf("Send queue for %s is full", destination),
		Retry:   true,
	}
}

// NewNotFoundError creates an error for not found resources.
func NewNotFoundError(resource string) *MCPError {
	return &MCPError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("Resource not found: %s", resource),
		Retry:   false,
	}
}

// NewInvalidInputError creates an error for invalid input.
func NewInvalidInputError(message string) *MCPError {
	return &MCPError{
		Code:    ErrInvalidInput,
		Message: message,
		Retry:   false,
	}
}

// NewTimeoutError creates an error for an operation that ran out of time.
func NewTimeoutError(what string) *MCPError {
	return &MCPError{
		Code:    ErrTimeout,
		Message: fmt.Sprintf("Timed out waiting for %s", what),
		Retry:   true,
	}
}

// NewInternalError creates an error for internal errors.
func NewInternalError(err error) *MCPError {
	return &MCPError{
		Code:    ErrInternal,
		Message: fmt.Sprintf("Internal error: %s", err.Error()),
		Retry:   false,
	}
}

// toMCPError maps an endpoint or messenger error onto a structured error.
func toMCPError(destination string, err error) *MCPError {
	var terminal *messenger.TerminalError
	switch {
	case errors.Is(err, endpoint.ErrUnknownDestination):
		return NewUnknownDestinationError(destination)
	case errors.Is(err, endpoint.ErrInvalidDestination):
		return NewInvalidDestinationError(destination)
	case errors.Is(err, endpoint.ErrClosed):
		return &MCPError{Code: ErrEndpointClosed, Message: "Endpoint is shutting down", Retry: false}
	case errors.Is(err, store.ErrNotFound):
		return NewNotFoundError(destination)
	case errors.Is(err, messenger.ErrOverflow):
		return NewQueueFullError(destination)
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(destination)
	case errors.As(err, &terminal):
		return &MCPError{Code: ErrMessageFailed, Message: err.Error(), Retry: false}
	case errors.Is(err, messenger.ErrIdentityMismatch),
		errors.Is(err, messenger.ErrConnectionClosed),
		errors.Is(err, messenger.ErrMessengerClosed),
		errors.Is(err, messenger.ErrOutputClosed),
		errors.Is(err, messenger.ErrInputClosed):
		return NewMessageFailedError(err)
	default:
		return NewInternalError(err)
	}
}
