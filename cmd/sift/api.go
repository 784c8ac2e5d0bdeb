package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/FranksOps/sift/internal/api"
	"github.com/FranksOps/sift/internal/metrics"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API",
	Long: `Serves the job API under /v1 together with /healthz and /metrics. A
separate metrics listener is started when server.metrics_addr is set.`,
	Args: cobra.NoArgs,
	RunE: runAPI,
}

func init() {
	apiCmd.Flags().String("addr", "", "listen address (overrides server.http_addr)")
	apiCmd.Flags().String("metrics-addr", "", "metrics listen address (overrides server.metrics_addr)")
	_ = v.BindPFlag("server.http_addr", apiCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("server.metrics_addr", apiCmd.Flags().Lookup("metrics-addr"))
}

func runAPI(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if addr := a.Config.Server.MetricsAddr; addr != "" {
		m := metrics.Start(addr, a.Logger)
		defer func() { _ = m.Stop(context.Background()) }()
		a.Logger.Info("metrics server listening", "addr", addr)
	}

	return api.New(a.Service, a.Archive, a.Logger).ListenAndServe(ctx, a.Config.Server.HTTPAddr)
}
