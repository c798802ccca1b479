// Package config holds the adapter's startup configuration. Values come from
// the environment (see the env tags) and are then overridden by flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/petal-labs/flowmcp/logging"
	"github.com/petal-labs/flowmcp/network"
)

// Mode selects the single transport a process runs.
type Mode string

const (
	// ModeNetwork serves HTTP with the SSE broadcast channel.
	ModeNetwork Mode = "network"
	// ModeStream serves newline-delimited JSON over stdin/stdout.
	ModeStream Mode = "stream"
)

// ErrUnsupportedNetwork is matched by *NetworkError.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// NetworkError reports a network name missing from the network table.
type NetworkError struct {
	Name      string
	Available []string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("unsupported network %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// Is makes errors.Is(err, ErrUnsupportedNetwork) hold.
func (e *NetworkError) Is(target error) bool {
	return target == ErrUnsupportedNetwork
}

// Config is the complete startup configuration.
type Config struct {
	Network      string `env:"FLOW_NETWORK" envDefault:"mainnet"`
	AccessNode   string `env:"FLOW_ACCESS_NODE"`
	NetworksFile string `env:"FLOWMCP_NETWORKS_FILE"`

	Host         string `env:"FLOWMCP_HOST"`
	Port         int    `env:"PORT" envDefault:"3000"`
	PortAttempts int    `env:"FLOWMCP_PORT_ATTEMPTS" envDefault:"20"`
	Stdio        bool   `env:"FLOWMCP_STDIO"`

	Heartbeat  string `env:"FLOWMCP_HEARTBEAT"`
	CORSOrigin string `env:"FLOWMCP_CORS_ORIGIN" envDefault:"*"`
	MaxBody    int64  `env:"FLOWMCP_MAX_BODY" envDefault:"1048576"`
	MaxMessage int    `env:"FLOWMCP_MAX_MESSAGE" envDefault:"1000000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	Quiet     bool

	OTelEndpoint string `env:"FLOWMCP_OTEL_ENDPOINT"`
}

// FromEnv loads a Config from the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// FromMap loads a Config from an explicit environment, ignoring the process
// environment.
func FromMap(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Mode reports the transport selected by the configuration.
func (c Config) Mode() Mode {
	if c.Stdio {
		return ModeStream
	}
	return ModeNetwork
}

// Validate checks value ranges. Network names are checked by Resolve.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.PortAttempts <= 0 {
		errs = append(errs, fmt.Errorf("port attempts must be positive, got %d", c.PortAttempts))
	}
	if c.MaxBody <= 0 {
		errs = append(errs, fmt.Errorf("max body must be positive, got %d", c.MaxBody))
	}
	if c.MaxMessage <= 0 {
		errs = append(errs, fmt.Errorf("max message must be positive, got %d", c.MaxMessage))
	}
	if !logging.ValidFormat(logging.Format(c.LogFormat)) {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if strings.TrimSpace(c.Network) == "" {
		errs = append(errs, errors.New("network is required"))
	}
	return errors.Join(errs...)
}

// Networks returns the built-in network table, overlaid by NetworksFile when
// one is configured.
func (c Config) Networks() (*network.Table, error) {
	table := network.Default()
	if strings.TrimSpace(c.NetworksFile) == "" {
		return table, nil
	}
	custom, err := network.LoadFile(c.NetworksFile)
	if err != nil {
		return nil, err
	}
	return table.Merge(custom), nil
}

// Resolve selects the configured network from table and applies the access
// node override.
func (c Config) Resolve(table *network.Table) (network.Selection, error) {
	selection, ok := table.Select(c.Network, c.AccessNode)
	if !ok {
		return network.Selection{}, &NetworkError{Name: c.Network, Available: table.Names()}
	}
	return selection, nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:  c.LogLevel,
		Format: logging.Format(c.LogFormat),
		Quiet:  c.Quiet,
	}
}
