package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/petal-labs/flowmcp/bus"
)

// Request is one invocation as received by a transport.
type Request struct {
	Tool   string
	Params json.RawMessage
}

// Result is the normalized outcome of an invocation. Exactly one of Value
// and Err is meaningful: Err is nil on success.
type Result struct {
	Value any
	Err   *ToolError
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Invoker is the dispatch contract consumed by transports.
type Invoker interface {
	Invoke(ctx context.Context, req Request) Result
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Events   bus.Publisher
	Observer Observer
	Logger   *slog.Logger
}

// Dispatcher resolves tool names against a Registry and normalizes handler
// outcomes into Results.
type Dispatcher struct {
	registry *Registry
	events   bus.Publisher
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher. A nil Registry yields a dispatcher for
// which every name is unknown.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		events:   cfg.Events,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Invoke runs the handler registered under req.Tool. Unknown names fail
// closed with NOT_FOUND without touching any handler.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) Result {
	started := d.now()

	_, handler, ok := d.registry.Lookup(req.Tool)
	if !ok {
		result := Result{Err: NotFound(req.Tool)}
		d.observe(UnknownTool, started, result)
		return result
	}

	result := d.call(ctx, handler, Call{
		Tool:   req.Tool,
		Params: req.Params,
		Events: d.events,
	})
	d.observe(req.Tool, started, result)
	return result
}

func (d *Dispatcher) call(ctx context.Context, handler Handler, call Call) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("tool handler panicked", "tool", call.Tool, "panic", recovered)
			result = Result{Err: NewToolError(ToolErrorCodeHandlerFailure, fmt.Sprint(recovered), nil)}
		}
	}()

	value, err := handler(ctx, call)
	if isNilToolError(err) {
		return Result{Value: value}
	}
	if err != nil {
		d.logger.Debug("tool handler failed", "tool", call.Tool, "error", err)
		return Result{Err: toolErrorFrom(err)}
	}
	return Result{Value: value}
}

func (d *Dispatcher) observe(name string, started time.Time, result Result) {
	observation := InvokeObservation{
		Tool:     name,
		Duration: d.now().Sub(started),
		Success:  result.OK(),
	}
	if result.Err != nil {
		observation.ErrorCode = result.Err.Code
	}
	d.observer.ObserveInvoke(observation)
}

var _ Invoker = (*Dispatcher)(nil)
