// devicehub - device access and identity service
//
// This is the main entry point for the devicehub core. It serves the
// authentication, recovery and device-control HTTP API, and offers
// maintenance subcommands for migrations and password hashing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/devicehub.yaml"

// configPath is set by the --config flag.
var configPath string

var rootCmd = &cobra.Command{
	Use:           "devicehub",
	Short:         "Device access and identity service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the configuration file (default $DEVICEHUB_CONFIG or "+defaultConfigPath+")")
}

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called explicitly above
	}
}

// getConfigPath resolves the configuration file from the flag, the
// environment, then the default.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv("DEVICEHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
