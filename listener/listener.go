// Package listener binds the network transport's TCP listener, moving to the
// next port when the preferred one is already taken.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"

	"github.com/avast/retry-go"
)

const (
	// DefaultMaxAttempts is the number of consecutive ports tried by Bind.
	DefaultMaxAttempts = 20

	maxPort = 65535
)

// ErrPortsExhausted is returned when every port in the tried range was in use.
var ErrPortsExhausted = errors.New("listener: no free port")

// BindConfig configures Bind.
type BindConfig struct {
	Host string
	Port int

	// MaxAttempts caps the number of ports tried, starting at Port.
	MaxAttempts int

	Logger *slog.Logger
}

// Bind listens on cfg.Port, or on the first free port after it when that one
// is in use. Errors other than "address in use" are returned immediately.
// Port 0 binds an ephemeral port without retrying.
func Bind(ctx context.Context, cfg BindConfig) (net.Listener, error) {
	if cfg.Port < 0 || cfg.Port > maxPort {
		return nil, fmt.Errorf("listener: port %d out of range", cfg.Port)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lc net.ListenConfig
	if cfg.Port == 0 {
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(cfg.Host, "0"))
		if err != nil {
			return nil, fmt.Errorf("listener: bind: %w", err)
		}
		return ln, nil
	}

	attempts := attemptsFor(cfg.Port, cfg.MaxAttempts)
	port := cfg.Port
	var ln net.Listener
	err := retry.Do(
		func() error {
			l, err := lc.Listen(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))
			if err != nil {
				return err
			}
			ln = l
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isAddrInUse),
		retry.OnRetry(func(n uint, _ error) {
			// retry-go also calls this after the final attempt.
			if int(n)+1 >= attempts {
				return
			}
			logger.Info("port in use, trying next", "port", port, "next", port+1)
			port++
		}),
	)
	if err != nil {
		last := cfg.Port + attempts - 1
		if isAddrInUse(err) {
			return nil, fmt.Errorf("%w: ports %d-%d: %w", ErrPortsExhausted, cfg.Port, last, err)
		}
		return nil, fmt.Errorf("listener: bind: %w", err)
	}
	return ln, nil
}

// Port reports the TCP port ln is bound to, or 0 when it cannot be
// determined.
func Port(ln net.Listener) int {
	if ln == nil {
		return 0
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	_, raw, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(raw)
	return port
}

// attemptsFor clamps the attempt budget so the last port tried is <= 65535.
func attemptsFor(port, maxAttempts int) int {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if remaining := maxPort - port + 1; maxAttempts > remaining {
		return remaining
	}
	return maxAttempts
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
