package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/agent"
	"github.com/Divas-Gupta30/helix/helix-agent/internal/server"
)

const serveLongDesc string = `Run the helix HTTP API.

Each POST /sessions opens an independent conversation. Questions are
posted to /sessions/{id}/answer and the rolling history is read back from
/sessions/{id}/history. Prometheus metrics are served on /metrics.`

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}

			log := newLogger(cfg.Log, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cfg.Pipeline.WatchTemplates && rt.templates != nil {
				if err := rt.templates.Watch(ctx); err != nil {
					return err
				}
			}

			srv := server.New(server.Config{
				ListenAddr:      cfg.Server.Listen,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			MaxSessions:     cfg.Server.MaxSessions,
			SessionIdleTTL:  cfg.Server.SessionIdleTTL,
			}, func(id string) (*agent.Engine, error) {
				return rt.newEngine(id), nil
			}, rt.serverOptions()...)

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (overrides server.listen)")
	return cmd
}
