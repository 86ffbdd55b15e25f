package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sandevgo/chatd/internal/config"
	"github.com/sandevgo/chatd/pkg/env"
	"github.com/sandevgo/chatd/pkg/log"
	"github.com/spf13/cobra"
)

// envFile is what setup persists; fields left zero are omitted so their
// defaults keep applying.
type envFile struct {
	Server    config.ServerConfig
	Providers config.ProviderConfig
}

var setupOpts struct {
	force  bool
	user   string
	listen string
	openai string
	claude string
	search string
	rate   float64
	burst  int
	maxMB  int64
	origin []string
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write the runtime .env and create the first user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()
		logger := log.FromCtx(ctx)

		runtimePath := config.GetRuntimePath()
		if err := os.MkdirAll(runtimePath, 0o750); err != nil {
			return fmt.Errorf("failed to create runtime directory: %w", err)
		}

		envPath := filepath.Join(runtimePath, ".env")
		if _, err := os.Stat(envPath); err == nil && !setupOpts.force {
			return fmt.Errorf(".env file already exists at %s, use --force to overwrite", envPath)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		content, err := env.MarshalEnv(buildEnvFile(cmd))
		if err != nil {
			return err
		}
		if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
			return err
		}
		logger.Info().Str("path", envPath).Msg("configuration saved")

		if setupOpts.user == "" {
			return nil
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.accounts(ctx); err != nil {
			return err
		}
		user, token, err := a.users.CreateUser(ctx, setupOpts.user)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %s\ntoken %s\n", user.Email, token)
		logger.Info().Msg("setup complete, run 'chatd serve'")
		return nil
	},
}

// buildEnvFile keeps only the values given on the command line.
func buildEnvFile(cmd *cobra.Command) *envFile {
	f := &envFile{}
	flags := cmd.Flags()

	if flags.Changed("listen") {
		f.Server.ListenAddr = setupOpts.listen
	}
	if flags.Changed("rate-limit") {
		f.Server.RateLimit = setupOpts.rate
	}
	if flags.Changed("rate-burst") {
		f.Server.RateBurst = setupOpts.burst
	}
	if flags.Changed("max-upload-mb") {
		f.Server.MaxUploadMB = setupOpts.maxMB
	}
	if flags.Changed("origin") {
		f.Server.AllowedOrigins = setupOpts.origin
	}
	f.Providers.OpenAIBaseURL = setupOpts.openai
	f.Providers.AnthropicBaseURL = setupOpts.claude
	f.Providers.SearchURL = setupOpts.search
	return f
}

func init() {
	flags := setupCmd.Flags()
	flags.BoolVarP(&setupOpts.force, "force", "f", false, "overwrite an existing .env")
	flags.StringVar(&setupOpts.user, "user", "", "create a user with this email and print its token")
	flags.StringVar(&setupOpts.listen, "listen", "", "HTTP listen address")
	flags.StringVar(&setupOpts.openai, "openai-base-url", "", "OpenAI-compatible API base URL")
	flags.StringVar(&setupOpts.claude, "anthropic-base-url", "", "Anthropic API base URL")
	flags.StringVar(&setupOpts.search, "search-url", "", "web search endpoint")
	flags.Float64Var(&setupOpts.rate, "rate-limit", 0, "requests per second per user")
	flags.IntVar(&setupOpts.burst, "rate-burst", 0, "request burst per user")
	flags.Int64Var(&setupOpts.maxMB, "max-upload-mb", 0, "upload size limit in MB")
	flags.StringSliceVar(&setupOpts.origin, "origin", nil, "allowed websocket origin, repeatable")
	rootCmd.AddCommand(setupCmd)
}
