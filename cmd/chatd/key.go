package main

import (
	"fmt"
	"strings"

	"github.com/sandevgo/chatd/internal/core"
	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage provider API keys of a user",
}

func parseProvider(s string) (core.Provider, error) {
	p := core.Provider(strings.ToLower(s))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

var keySetCmd = &cobra.Command{
	Use:   "set <email> <provider> <key>",
	Short: "Store a provider key",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := parseProvider(args[1])
		if err != nil {
			return err
		}

		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.users.GetUserByEmail(ctx, args[0])
		if err != nil {
			return err
		}
		if err := a.keys.SetAPIKey(ctx, user.ID, provider, args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s key stored for %s\n", provider, user.Email)
		return nil
	},
}

var keyDeleteCmd = &cobra.Command{
	Use:   "delete <email> <provider>",
	Short: "Remove a provider key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := parseProvider(args[1])
		if err != nil {
			return err
		}

		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.users.GetUserByEmail(ctx, args[0])
		if err != nil {
			return err
		}
		return a.keys.DeleteAPIKey(ctx, user.ID, provider)
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd, keyDeleteCmd)
	rootCmd.AddCommand(keyCmd)
}
