package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sandevgo/chatd/pkg/log"
	"github.com/sandevgo/chatd/pkg/srv"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat API server",
	Long:  `Opens the database, connects configured MCP servers and serves the REST and websocket API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		logger := log.FromCtx(ctx)
		logger.Info().Msg("starting chatd")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}

		services, err := a.NewServices(ctx)
		if err != nil {
			_ = a.Close()
			return err
		}

		if err := srv.Run(ctx, srv.DefaultShutdownTimeout, services...); err != nil {
			logger.Error().Err(err).Msg("chatd stopped with error")
			return err
		}

		logger.Info().Msg("chatd has been shut down gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
