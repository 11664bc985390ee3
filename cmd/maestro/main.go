package main

import (
	"context"
	"fmt"
	"os"

	clientcmd "github.com/rzbill/maestro/internal/cmd/client"
	serverrun "github.com/rzbill/maestro/internal/cmd/server"
	cfgpkg "github.com/rzbill/maestro/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := clientcmd.NewRoot(apiURL)
	rootCmd.Long = "Maestro runs queue consumers whose lifecycle operators can drain and resume. This CLI starts a replica and controls running ones."

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a replica (consumers, HTTP and gRPC)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := serverrun.Run(context.Background(), serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	f := serverStartCmd.Flags()
	f.String("config", os.Getenv("MAESTRO_CONFIG"), "Config file (yaml, json or toml)")
	f.String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	f.String("replica", "", "Replica name (default: host name)")
	f.String("http", "", "HTTP listen address (default :8080)")
	f.String("grpc", "", "gRPC listen address (default :9090)")
	f.String("fsync", "", "Fsync mode: always|interval|never")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	f.String("state-backend", "", "Replica state backend: pebble|memory|s3|azure")
	f.String("poison-policy", "", "CEL expression selecting poison messages (default dequeue_count > 5)")
	f.Int("consumers", 0, "Consumers per queue")
	f.Bool("start-stopped", false, "Start in Stopped instead of Initializing")
	f.Duration("shutdown-timeout", 0, "How long shutdown waits for in-flight work")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, MAESTRO_* variables and
// explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	cfgpkg.FromEnv(&cfg)

	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("data-dir", &cfg.DataDir)
	str("replica", &cfg.Replica)
	str("http", &cfg.HTTPAddr)
	str("grpc", &cfg.GRPCAddr)
	str("fsync", &cfg.Fsync)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("state-backend", &cfg.StateStore.Backend)
	str("poison-policy", &cfg.PoisonPolicy)
	if flags.Changed("consumers") {
		n, _ := flags.GetInt("consumers")
		for i := range cfg.Queues {
			cfg.Queues[i].Consumers = n
		}
	}
	if flags.Changed("start-stopped") {
		cfg.StartStopped, _ = flags.GetBool("start-stopped")
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout, _ = flags.GetDuration("shutdown-timeout")
	}
	return cfg, nil
}

func apiURL() string { return clientcmd.APIURLFromEnv() }
