package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/sift/internal/app"
	"github.com/FranksOps/sift/internal/report"
	"github.com/FranksOps/sift/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Summarize archived search jobs",
	Long:  `Reads the job archive configured under archive.* and prints a summary or the raw records.`,
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	historyQuery  string
	historyStatus string
	historySince  time.Duration
	historyLimit  int
	historyFormat string
)

func init() {
	historyCmd.Flags().StringVar(&historyQuery, "query", "", "only jobs with this exact query")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only jobs with this status (completed, failed, cancelled)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only jobs created within this window, e.g. 24h")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "maximum number of jobs (0 for all)")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "text", "output format: text, html or json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	archive, err := app.OpenArchive(cmd.Context(), cfg.Archive)
	if err != nil {
		return err
	}
	if archive == nil {
		return errors.New("no archive configured (set archive.backend)")
	}
	defer archive.Close()

	filter := storage.Filter{Query: historyQuery, Status: historyStatus, Limit: historyLimit}
	if historySince > 0 {
		since := time.Now().Add(-historySince)
		filter.Since = &since
	}
	records, err := archive.Query(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("query archive: %w", err)
	}
	return writeHistory(cmd.OutOrStdout(), records, historyFormat)
}

func writeHistory(w io.Writer, records []*storage.Record, format string) error {
	switch format {
	case "json":
		return report.WriteJSON(w, records)
	case "html":
		return report.WriteHTML(w, report.GenerateSummary(records))
	case "text":
		return report.WriteText(w, report.GenerateSummary(records))
	}
	return fmt.Errorf("unknown format %q", format)
}
