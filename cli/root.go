// Package cli implements the flowmcp command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/petal-labs/flowmcp/config"
)

// Flag names.
const (
	flagNetwork      = "network"
	flagAccessNode   = "access-node"
	flagNetworksFile = "networks-file"
	flagPort         = "port"
	flagHost         = "host"
	flagStdio        = "stdio"
	flagPortAttempts = "port-attempts"
	flagHeartbeat    = "heartbeat"
	flagCORSOrigin   = "cors-origin"
	flagMaxBody      = "max-body"
	flagMaxMessage   = "max-message"
	flagLogLevel     = "log-level"
	flagLogFormat    = "log-format"
	flagQuiet        = "quiet"
)

// loadFunc produces the environment layer of the configuration.
type loadFunc func() (config.Config, error)

// NewRootCmd creates the flowmcp command.
func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(version, config.FromEnv)
}

func newRootCmd(version string, load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flowmcp",
		Short: "Flow blockchain tool server",
		Long: "flowmcp exposes Flow blockchain tools over HTTP with a server-sent event stream,\n" +
			"or over newline-delimited JSON on stdin/stdout with --stdio.",
		Args: cobra.NoArgs,
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return exitError(exitConfig, "loading environment: %w", err)
			}
			applyFlags(cmd.Flags(), &cfg)
			return run(cmd, version, cfg)
		},
	}

	defaults, _ := config.FromMap(map[string]string{})
	flags := cmd.Flags()
	flags.StringP(flagNetwork, "n", defaults.Network, "Flow network (mainnet, testnet, emulator)")
	flags.StringP(flagAccessNode, "a", "", "Access node URL (default: the network's access node)")
	flags.String(flagNetworksFile, "", "YAML file with additional or overriding networks")
	flags.IntP(flagPort, "p", defaults.Port, "Preferred listen port")
	flags.String(flagHost, "", "Listen host (default: all interfaces)")
	flags.Bool(flagStdio, false, "Serve newline-delimited JSON on stdin/stdout instead of HTTP")
	flags.Int(flagPortAttempts, defaults.PortAttempts, "Number of consecutive ports to try")
	flags.String(flagHeartbeat, "", `Cron schedule for heartbeat events (e.g. "@every 30s")`)
	flags.String(flagCORSOrigin, defaults.CORSOrigin, "Allowed CORS origin")
	flags.Int64(flagMaxBody, defaults.MaxBody, "Max HTTP request body size in bytes")
	flags.Int(flagMaxMessage, defaults.MaxMessage, "Max unterminated stdio message size in bytes")
	flags.String(flagLogLevel, defaults.LogLevel, "Log level (debug, info, warn, error)")
	flags.String(flagLogFormat, defaults.LogFormat, "Log format (text, json)")
	flags.Bool(flagQuiet, false, "Suppress all logs")

	cmd.Version = version
	cmd.SetVersionTemplate(fmt.Sprintf("Flow MCP Server v%s\n", version))

	return cmd
}

// applyFlags overlays explicitly set flags on cfg so unset flags keep the
// environment's values.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed(flagNetwork) {
		cfg.Network, _ = flags.GetString(flagNetwork)
	}
	if flags.Changed(flagAccessNode) {
		cfg.AccessNode, _ = flags.GetString(flagAccessNode)
	}
	if flags.Changed(flagNetworksFile) {
		cfg.NetworksFile, _ = flags.GetString(flagNetworksFile)
	}
	if flags.Changed(flagPort) {
		cfg.Port, _ = flags.GetInt(flagPort)
	}
	if flags.Changed(flagHost) {
		cfg.Host, _ = flags.GetString(flagHost)
	}
	if flags.Changed(flagStdio) {
		cfg.Stdio, _ = flags.GetBool(flagStdio)
	}
	if flags.Changed(flagPortAttempts) {
		cfg.PortAttempts, _ = flags.GetInt(flagPortAttempts)
	}
	if flags.Changed(flagHeartbeat) {
		cfg.Heartbeat, _ = flags.GetString(flagHeartbeat)
	}
	if flags.Changed(flagCORSOrigin) {
		cfg.CORSOrigin, _ = flags.GetString(flagCORSOrigin)
	}
	if flags.Changed(flagMaxBody) {
		cfg.MaxBody, _ = flags.GetInt64(flagMaxBody)
	}
	if flags.Changed(flagMaxMessage) {
		cfg.MaxMessage, _ = flags.GetInt(flagMaxMessage)
	}
	if flags.Changed(flagLogLevel) {
		cfg.LogLevel, _ = flags.GetString(flagLogLevel)
	}
	if flags.Changed(flagLogFormat) {
		cfg.LogFormat, _ = flags.GetString(flagLogFormat)
	}
	if flags.Changed(flagQuiet) {
		cfg.Quiet, _ = flags.GetBool(flagQuiet)
	}
}
