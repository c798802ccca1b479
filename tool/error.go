package tool

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ToolErrorCodeNotFound is returned when no tool is registered under the requested name.
	ToolErrorCodeNotFound = "NOT_FOUND"
	// ToolErrorCodeHandlerFailure is a generic fallback for faults raised inside a handler.
	ToolErrorCodeHandlerFailure = "HANDLER_FAILURE"
	// ToolErrorCodeInvalidParameters is returned by handlers rejecting their input.
	ToolErrorCodeInvalidParameters = "INVALID_PARAMETERS"
	// ToolErrorCodeUpstreamFailure is returned for non-success upstream responses.
	ToolErrorCodeUpstreamFailure = "UPSTREAM_FAILURE"
)

// ToolError is a structured invocation failure that can flow across both
// transports without losing its machine-readable code.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ToolErrorCodeHandlerFailure
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewToolError builds a ToolError, defaulting the code to HANDLER_FAILURE
// and the message to the cause's text.
func NewToolError(code, message string, cause error) *ToolError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ToolErrorCodeHandlerFailure
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Code:    cleanCode,
		Message: cleanMsg,
		Cause:   cause,
	}
}

// InvalidParameters reports a handler-side parameter rejection.
func InvalidParameters(format string, args ...any) *ToolError {
	return NewToolError(ToolErrorCodeInvalidParameters, fmt.Sprintf(format, args...), nil)
}

// NotFound reports an unknown tool name.
func NotFound(name string) *ToolError {
	return &ToolError{
		Code:    ToolErrorCodeNotFound,
		Message: "Tool not found: " + name,
		Details: map[string]any{"tool": name},
	}
}

// WithDetails merges details into err and returns it.
func WithDetails(err *ToolError, details map[string]any) *ToolError {
	if err == nil {
		return nil
	}
	if len(details) == 0 {
		return err
	}
	if err.Details == nil {
		err.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		err.Details[key] = value
	}
	return err
}

// AsToolError extracts a non-nil *ToolError from err's chain.
func AsToolError(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr != nil {
		return toolErr, true
	}
	return nil, false
}

// isNilToolError reports whether err is a nil *ToolError stored in a non-nil
// error interface, as returned by `var e *ToolError; return v, e`.
func isNilToolError(err error) bool {
	toolErr, ok := err.(*ToolError)
	return ok && toolErr == nil
}

// IsNotFound reports whether err is a NOT_FOUND tool error.
func IsNotFound(err error) bool {
	toolErr, ok := AsToolError(err)
	return ok && toolErr.Code == ToolErrorCodeNotFound
}

func toolErrorFrom(err error) *ToolError {
	if toolErr, ok := AsToolError(err); ok {
		return toolErr
	}
	return NewToolError(ToolErrorCodeHandlerFailure, err.Error(), err)
}
