package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/FranksOps/sift/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server over stdio",
	Long: `Serves the start_vertical_search, get_search_status, cancel_search and
list_platforms tools to an MCP client over stdin/stdout. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	srv := mcpserver.New(a.Service, version, a.Logger)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info("mcp server stopped")
	return nil
}
