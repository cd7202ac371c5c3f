// Package main is the entry point for the netbot CLI.
// netbot answers home-network questions through a small team of specialist
// personas that run diagnostics, speed tests and knowledge lookups.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/netbot/internal/config"
	"github.com/normanking/netbot/internal/logging"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	cfg     *config.Config
	log     *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "netbot",
		Short: "netbot - home network troubleshooting assistant",
		Long: `netbot routes each question to a specialist persona:
  • Fixie answers common problems from the knowledge files
  • Bytefix runs ping, traceroute and nslookup
  • Hypernet measures your connection speed
  • Professor Ping draws network topologies

One-shot question:   netbot ask "modemim sürekli kopuyor"
Serve chat and A2A:  netbot serve
Load knowledge:      netbot ingest`,
		PersistentPreRunE: initConfigAndLogging,
		SilenceUsage:      true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.netbot/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("netbot v%s\n", version)
		},
	})

	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(datasetsCmd())
	rootCmd.AddCommand(turnsCmd())
	rootCmd.AddCommand(personasCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG AND LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initConfigAndLogging(cmd *cobra.Command, args []string) error {
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	if verbose {
		logCfg = logging.VerboseConfig()
	} else {
		logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
	}
	logCfg.JSON = cfg.Logging.JSON
	if cfg.Logging.Dir != "" {
		if err := os.MkdirAll(cfg.Logging.Dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
		} else {
			logCfg.FilePath = logging.DailyFilePath(cfg.Logging.Dir, "netbot", time.Now())
		}
	}

	log = logging.New(logCfg)
	logging.SetGlobal(log)

	if verbose {
		log.Debug("Verbose logging enabled")
		log.Debug("Config path: %s", configPath())
		log.Debug("Log file: %s", logCfg.FilePath)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return cfg.GetConfigPath()
}
