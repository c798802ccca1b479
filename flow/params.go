package flow

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/petal-labs/flowmcp/tool"
)

// typedTool derives the input schema of T and wraps run in a handler that
// validates and decodes the raw parameters before calling it.
func typedTool[T any](name, description string, run func(ctx context.Context, call tool.Call, params T) (any, error)) (tool.Definition, tool.Handler, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return tool.Definition{}, nil, fmt.Errorf("flow: input schema for %s: %w", name, err)
	}
	// Callers may send fields newer tools understand; only declared ones are checked.
	schema.AdditionalProperties = nil
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return tool.Definition{}, nil, fmt.Errorf("flow: resolve input schema for %s: %w", name, err)
	}

	handler := func(ctx context.Context, call tool.Call) (any, error) {
		params, err := decodeParams[T](call.Params, resolved)
		if err != nil {
			return nil, err
		}
		return run(ctx, call, params)
	}
	return tool.Definition{Name: name, Description: description, InputSchema: schema}, handler, nil
}

func decodeParams[T any](raw json.RawMessage, resolved *jsonschema.Resolved) (T, error) {
	var params T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var instance any
	if err := json.Unmarshal(trimmed, &instance); err != nil {
		return params, tool.InvalidParameters("parameters must be a JSON object: %v", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return params, tool.InvalidParameters("invalid parameters: %v", err)
	}
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return params, tool.InvalidParameters("invalid parameters: %v", err)
	}
	return params, nil
}

// normalizeAddress accepts a Flow address with or without 0x and left-pads
// it to 8 bytes.
func normalizeAddress(raw string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	addr = strings.TrimPrefix(addr, "0x")
	if addr == "" {
		return "", tool.InvalidParameters("address is required")
	}
	if len(addr) > 16 {
		return "", tool.InvalidParameters("address %q is longer than 8 bytes", raw)
	}
	if !isHex(addr) {
		return "", tool.InvalidParameters("address %q is not hexadecimal", raw)
	}
	return "0x" + strings.Repeat("0", 16-len(addr)) + addr, nil
}

// normalizeID validates a 32-byte block or transaction id.
func normalizeID(kind, raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	id = strings.TrimPrefix(id, "0x")
	if id == "" {
		return "", tool.InvalidParameters("%s id is required", kind)
	}
	if len(id) != 64 || !isHex(id) {
		return "", tool.InvalidParameters("%s id %q must be 64 hexadecimal characters", kind, raw)
	}
	return id, nil
}

func isHex(s string) bool {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// FormatUFix64 renders a raw UFix64 amount (8 implied decimals) as a decimal
// string.
func FormatUFix64(raw string) (string, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return "", fmt.Errorf("flow: invalid UFix64 %q: %w", raw, err)
	}
	return fmt.Sprintf("%d.%08d", v/1e8, v%1e8), nil
}

// upstreamError maps client failures onto tool errors.
func upstreamError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return tool.NewToolError(tool.ToolErrorCodeUpstreamFailure, op+": request canceled", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return tool.WithDetails(
			tool.NewToolError(tool.ToolErrorCodeUpstreamFailure, op+": "+apiErr.Message, err),
			map[string]any{"status": apiErr.Status, "notFound": apiErr.Status == http.StatusNotFound},
		)
	}
	return tool.NewToolError(tool.ToolErrorCodeUpstreamFailure, op+": "+err.Error(), err)
}
