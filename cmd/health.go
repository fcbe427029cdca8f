package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/dashprobe/internal/healthprobe"
	"github.com/xkilldash9x/dashprobe/internal/observability"
)

func newHealthCmd() *cobra.Command {
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Health probe endpoints",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve GET / and GET /health until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			srv := healthprobe.NewServer(healthprobe.Config{
				Addr:              cfg.Health.Addr,
				ReadHeaderTimeout: cfg.Health.ReadHeaderTimeout,
				ShutdownTimeout:   cfg.Health.ShutdownTimeout,
			}, observability.GetLogger())
			return srv.Run(cmd.Context())
		},
	}
	serveCmd.Flags().String("addr", ":5000", "listen address")

	healthCmd.AddCommand(serveCmd)
	return healthCmd
}
