package tool

import "time"

// UnknownTool is the Tool of observations for names missing from the
// registry. Caller-supplied names are never reported, so they cannot grow
// metric cardinality.
const UnknownTool = "unknown"

// InvokeObservation captures one dispatch outcome.
type InvokeObservation struct {
	Tool      string
	Duration  time.Duration
	Success   bool
	ErrorCode string
}

// Observer receives dispatch-level observability events.
type Observer interface {
	ObserveInvoke(observation InvokeObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveInvoke(InvokeObservation) {}
