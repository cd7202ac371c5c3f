package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/netbot/internal/a2a"
	"github.com/normanking/netbot/internal/retrieval"
	"github.com/normanking/netbot/internal/server"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket chat, REST and A2A endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			startedAt := time.Now()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if cfg.Retrieval.Watch {
				watcher := retrieval.NewWatcher(a.pipeline, a.cache, retrieval.DefaultDebounce)
				go func() {
					if err := watcher.Run(ctx); err != nil {
						log.Warn("Knowledge watcher stopped: %v", err)
					}
				}()
			}

			srvCfg := server.DefaultConfig()
			srvCfg.Addr = addr
			srvCfg.APIKeyHash = cfg.Server.APIKeyHash
			srvCfg.Version = version

			srv, err := server.New(srvCfg, server.Deps{
				Turns:    a.service,
				Personas: a.personas,
				Datasets: a.pipeline,
				Health:   a.db,
				Stats:    a.statsSources(),
				Routing:  a.router,
				TurnLog:  a.db,
				Logger:   log.WithComponent("server"),
			})
			if err != nil {
				return err
			}

			publicURL := cfg.Server.PublicURL
			if publicURL == "" {
				publicURL = "http://" + addr + "/"
			}
			card := a2a.AgentCard(a.personas, a2a.CardConfig{
				Version: version,
				URL:     publicURL,
			})
			a2a.Mount(srv, a2a.NewExecutor(a.service, log.WithComponent("a2a")), card)
			log.Info("A2A endpoint %s with %d skills", publicURL, len(card.Skills))

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(addr)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			<-errCh
			log.Info("Server stopped after %v", time.Since(startedAt).Round(time.Second))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
