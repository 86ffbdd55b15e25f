package main

import (
	"os"
	"os/signal"

	"github.com/sandevgo/chatd/internal/transport/mcp"
	"github.com/sandevgo/chatd/pkg/log"
	"github.com/spf13/cobra"
)

var mcpUser string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tool registry as an MCP server over stdio",
	Long: `Exposes the tools available to a user to MCP clients over stdin and stdout.
Tools that need a provider key are offered only when the user has stored one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var flushLog func()
		ctx, flushLog = setupStderrLogger(ctx)
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.users.GetUserByEmail(ctx, mcpUser)
		if err != nil {
			return err
		}

		registry, remote, err := a.registry(ctx, true)
		if err != nil {
			return err
		}
		defer remote.Shutdown(ctx)

		bridge, err := mcp.NewBridge(ctx, registry, a.keys, user.ID)
		if err != nil {
			return err
		}

		log.FromCtx(ctx).Info().Strs("tools", bridge.Tools()).Str("user", user.Email).Msg("serving MCP over stdio")
		return bridge.Serve(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	mcpCmd.Flags().StringVarP(&mcpUser, "user", "u", "", "email of the user whose keys are used")
	_ = mcpCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(mcpCmd)
}
