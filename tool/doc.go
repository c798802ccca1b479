// Package tool defines the invocation contract shared by every transport.
//
// The package is split by concern:
//   - registry: tool definitions keyed by unique name
//   - dispatch: name resolution, handler invocation and outcome normalization
//   - error: structured failures with machine-readable codes
//   - observability: invoke observations for metrics and tracing
//
// The package is transport-agnostic so the HTTP and stdio transports share
// one registry and one failure contract. Parameter validation belongs to the
// handlers; the dispatcher passes parameters through untouched.
package tool
