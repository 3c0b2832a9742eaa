package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/fedlet/agent"
	"github.com/absmach/fedlet/agent/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func agentCmds() []cobra.Command {
	return []cobra.Command{
		{
			Use:   "run",
			Short: "Run the agent",
			Long:  `Registers the configured models and checks for federated training tasks until interrupted.`,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}

				logger := NewLogger(cfg.Agent.LogLevel)
				slog.SetDefault(logger)

				svc, err := agent.NewService(*cfg, logger)
				if err != nil {
					return fmt.Errorf("service initialization error: %w", err)
				}
				defer svc.Close()

				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return svc.Run(ctx)
				})

				if cfg.API.Address != "" {
					server := &http.Server{
						Addr:              cfg.API.Address,
						Handler:           api.MakeHandler(svc, logger),
						ReadHeaderTimeout: 10 * time.Second,
					}
					g.Go(func() error {
						logger.Info("agent API listening", slog.String("address", cfg.API.Address))
						if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							return fmt.Errorf("agent API failed: %w", err)
						}

						return nil
					})
					g.Go(func() error {
						<-ctx.Done()
						shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
						defer cancel()

						return server.Shutdown(shutdownCtx)
					})
				}

				if err := g.Wait(); err != nil {
					return fmt.Errorf("service run error: %w", err)
				}
				logger.Info("agent stopped")

				return nil
			},
		},
		{
			Use:   "check",
			Short: "Run one task check and exit",
			Long:  `Runs every available task for the configured models once and prints the recorded runs.`,
			Run: func(cmd *cobra.Command, _ []string) {
				cfg, err := loadConfig(cmd)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				svc, err := agent.NewService(*cfg, NewLogger(cfg.Agent.LogLevel))
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				defer svc.Close()

				if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
					available, err := svc.TasksAvailable(cmd.Context())
					if err != nil {
						logErrorCmd(*cmd, err)

						return
					}
					logJSONCmd(*cmd, map[string]bool{"available": available})

					return
				}

				if err := svc.Check(cmd.Context()); err != nil {
					logErrorCmd(*cmd, err)

					return
				}

				page, err := svc.Runs(cmd.Context(), 0, 0)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				logJSONCmd(*cmd, page)
			},
		},
	}
}

// NewAgentCmds returns the run and check commands.
func NewAgentCmds() []*cobra.Command {
	table := agentCmds()
	table[1].Flags().Bool("dry-run", false, "Only report whether tasks are available")

	cmds := make([]*cobra.Command, 0, len(table))
	for i := range table {
		cmds = append(cmds, &table[i])
	}

	return cmds
}
