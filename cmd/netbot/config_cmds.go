package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/normanking/netbot/internal/config"
	"github.com/normanking/netbot/internal/server"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERSONAS COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func personasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List personas and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadPersonas(cfg)
			if err != nil {
				return err
			}

			for _, p := range store.All() {
				name := personaStyle.Render(p.Name)
				if p.Key == cfg.Router.DefaultPersona {
					name += metaStyle.Render("  (default)")
				}
				fmt.Println(name)
				fmt.Println("  " + p.Role)
				if len(p.Aliases) > 0 {
					fmt.Println(metaStyle.Render("  aliases: @" + strings.Join(p.Aliases, ", @")))
				}
				for _, c := range p.Capabilities {
					line := "  • " + c.Name
					if c.IsRetrieval() {
						line += metaStyle.Render(" [dataset: " + c.Dataset + "]")
					}
					fmt.Println(line)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *cfg
			shown.LLM.Providers = make(map[string]config.ProviderConfig, len(cfg.LLM.Providers))
			for name, pc := range cfg.LLM.Providers {
				if pc.APIKey != "" {
					pc.APIKey = "********"
				}
				shown.LLM.Providers[name] = pc
			}

			out, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(configPath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and persona catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadPersonas(cfg); err != nil {
				return err
			}
			fmt.Println(lipgloss.NewStyle().Foreground(lipgloss.Color("#9ECE6A")).Render("Configuration is valid"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "hash-key",
		Short: "Hash an API key for server.api_key_hash (reads the key from stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "API key: ")
			key, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && key == "" {
				return fmt.Errorf("failed to read key: %w", err)
			}

			hash, err := server.HashAPIKey(strings.TrimSpace(key))
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	})

	return cmd
}
