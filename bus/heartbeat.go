package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// EventHeartbeat is the kind of the periodic liveness event.
const EventHeartbeat = "heartbeat"

// heartbeatParser accepts standard five-field expressions and descriptors
// such as "@every 30s" or "@hourly".
var heartbeatParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// HeartbeatConfig configures a Heartbeat.
type HeartbeatConfig struct {
	Bus     EventBus
	Spec    string
	Network string
	Logger  *slog.Logger
}

// Heartbeat emits a heartbeat event on a cron schedule so listeners can tell
// an idle stream from a dead one.
type Heartbeat struct {
	bus     EventBus
	network string
	logger  *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewHeartbeat validates the schedule and returns a stopped Heartbeat.
func NewHeartbeat(cfg HeartbeatConfig) (*Heartbeat, error) {
	if cfg.Bus == nil {
		return nil, errors.New("heartbeat bus is nil")
	}
	spec := strings.TrimSpace(cfg.Spec)
	if spec == "" {
		return nil, errors.New("heartbeat schedule is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := &Heartbeat{
		bus:     cfg.Bus,
		network: cfg.Network,
		logger:  cfg.Logger,
	}
	c := cron.New(cron.WithParser(heartbeatParser))
	if _, err := c.AddFunc(spec, h.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid heartbeat schedule %q: %w", spec, err)
	}
	h.cron = c
	return h, nil
}

// Start begins emitting on schedule. Calling Start twice is a no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cron.Start()
}

// Stop halts the schedule and waits for a running emission to finish or ctx
// to expire.
func (h *Heartbeat) Stop(ctx context.Context) error {
	h.mu.Lock()
	stopped := h.cron.Stop()
	h.mu.Unlock()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce emits a single heartbeat event.
func (h *Heartbeat) RunOnce() {
	event := h.bus.Emit(EventHeartbeat, map[string]any{
		"network":  h.network,
		"sessions": h.bus.Len(),
	})
	h.logger.Debug("heartbeat emitted", "seq", event.Seq, "sessions", h.bus.Len())
}
