package main

import (
	"fmt"
	"strconv"

	"github.com/sandevgo/chatd/internal/providers/llm"
	"github.com/sandevgo/chatd/internal/service/ui"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows := make([][]string, 0, len(llm.DefaultModels))
		for _, m := range llm.DefaultModels {
			rows = append(rows, []string{
				m.APIName,
				m.HumanName,
				string(m.Provider),
				strconv.FormatBool(m.Streaming),
				strconv.FormatBool(m.Images),
				strconv.FormatBool(m.Tools),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table(
			[]string{"MODEL", "NAME", "PROVIDER", "STREAM", "IMAGES", "TOOLS"}, rows))
		return nil
	},
}

var loadRemote bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupStderrLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		registry, remote, err := a.registry(ctx, loadRemote)
		if err != nil {
			return err
		}
		defer remote.Shutdown(ctx)

		var rows [][]string
		for _, t := range registry.List() {
			key := "-"
			if t.RequiresAPIKey() {
				key = string(t.APIProvider())
			}
			rows = append(rows, []string{t.Name(), key, t.Description()})
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"TOOL", "KEY", "DESCRIPTION"}, rows))
		return nil
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&loadRemote, "remote", false, "also connect the MCP servers in mcp.json")
	rootCmd.AddCommand(modelsCmd, toolsCmd)
}
