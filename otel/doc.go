// Package otel wires OpenTelemetry into the adapter: tracer and meter
// providers, a Prometheus scrape handler, and observers for tool invocations
// and broadcast traffic.
package otel
