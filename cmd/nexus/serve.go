package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/nexus/internal/server"
)

func ServeCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svcCtx, err := openService()
			if err != nil {
				return err
			}
			defer svcCtx.Close()

			return server.Run(ctx, *ServerConfig, server.ServerOptions{SvcCtx: svcCtx, Quiet: quiet})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress startup messages and request logs")
	return cmd
}
