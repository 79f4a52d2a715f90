// homesync - room access control and environment sync over MQTT.
//
// One binary runs every process of a deployment:
//
//	homesync bridge              SyncBridge: access decisions, state store, API
//	homesync door                DoorNode on a credential reader and lock
//	homesync light               LightNode driving three output channels
//	homesync sensor              SensorNode publishing temperature and humidity
//	homesync allowlist ...       administer the allow-list offline
//	homesync token --role admin  mint an API bearer token
//	homesync migrate status      show database schema version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
	"github.com/nerrad567/homesync/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "homesync",
		Short:         "Room access control and environment sync over MQTT",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $HOMESYNC_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(newBridgeCommand(opts))
	root.AddCommand(newDoorCommand(opts))
	root.AddCommand(newLightCommand(opts))
	root.AddCommand(newSensorCommand(opts))
	root.AddCommand(newAllowListCommand(opts))
	root.AddCommand(newTokenCommand(opts))
	root.AddCommand(newMigrateCommand(opts))

	return root
}

// getConfigPath resolves the config file from the flag, then
// HOMESYNC_CONFIG, then the default path.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("HOMESYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// load reads the configuration once and builds the process logger.
func (o *rootOptions) load(role string) (*config.Config, *logging.Logger, error) {
	path := getConfigPath(o.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version, role)
	log.Debug("configuration loaded", "path", path, "site", cfg.Site.ID)
	return cfg, log, nil
}
