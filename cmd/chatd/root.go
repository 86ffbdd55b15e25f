package main

import (
	"context"
	"os"

	"github.com/sandevgo/chatd/internal/config"
	"github.com/sandevgo/chatd/internal/service/ui"
	"github.com/sandevgo/chatd/pkg/log"
	"github.com/spf13/cobra"
)

var (
	debug    bool
	jsonLogs bool
)

var rootCmd = &cobra.Command{
	Use:           "chatd",
	Short:         "chatd: a multi-provider chat backend",
	Long:          `chatd serves chats against OpenAI and Anthropic models with tool calling and streamed replies.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", config.IsDebug(), "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "write logs as JSON lines")
}

func setupLogger(ctx context.Context) (context.Context, func()) {
	return log.NewContextWithOptions(ctx, log.Options{
		Debug: debug || config.IsDebug(),
		JSON:  jsonLogs || os.Getenv("CHATD_JSON_LOGS") == "true",
	})
}

// setupStderrLogger keeps stdout free for protocols that own it.
func setupStderrLogger(ctx context.Context) (context.Context, func()) {
	return log.NewContextWithOptions(ctx, log.Options{
		Debug: debug || config.IsDebug(),
		JSON:  true,
		Out:   os.Stderr,
	})
}

func CustomizeHelp(rootCmd *cobra.Command) {
	cobra.AddTemplateFunc("StyleTitle", func(s string) string { return ui.TitleStyle.Render(s) })
	cobra.AddTemplateFunc("StyleUsage", func(s string) string { return ui.UsageStyle.Render(s) })
	cobra.AddTemplateFunc("StyleFlag", func(s string) string { return ui.FlagStyle.Render(s) })
	cobra.AddTemplateFunc("StyleDesc", func(s string) string { return ui.DescStyle.Render(s) })

	template := `
{{StyleTitle "USAGE"}}
  {{StyleUsage .UseLine}}
{{if gt (len .Commands) 0}}{{StyleTitle "AVAILABLE COMMANDS"}}
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding}} {{StyleDesc .Short}}{{end}}
{{end}}{{end}}
{{if .HasAvailableLocalFlags}}{{StyleTitle "FLAGS"}}
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
{{end}}{{if .HasAvailableInheritedFlags}}{{StyleTitle "GLOBAL FLAGS"}}
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}
{{end}}
`
	rootCmd.SetHelpTemplate(template)
}
