package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/sift/internal/report"
	"github.com/FranksOps/sift/internal/runner"
	"github.com/FranksOps/sift/internal/task"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run one search and print the results",
	Long: `Runs a search job in-process, printing progress to stderr until it
finishes. Interrupting the command cancels the job.`,
	Example: `  sift search -p weixin,google -n 20 --content "large language models"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runSearch,
}

var (
	searchPlatforms string
	searchLimit     int
	searchContent   bool
	searchJSON      bool
	searchPoll      time.Duration
)

func init() {
	searchCmd.Flags().StringVarP(&searchPlatforms, "platform", "p", "all", "platforms to search: all, or a comma separated list")
	searchCmd.Flags().IntVarP(&searchLimit, "max-results", "n", 0, "maximum results across all platforms (default jobs.default_limit)")
	searchCmd.Flags().BoolVar(&searchContent, "content", false, "fetch the full content behind each result")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print the job as JSON")
	searchCmd.Flags().DurationVar(&searchPoll, "poll", 500*time.Millisecond, "status polling interval")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	resp, err := a.Service.StartJob(ctx, runner.StartRequest{
		Query:          strings.Join(args, " "),
		Sources:        searchPlatforms,
		Limit:          searchLimit,
		IncludeContent: &searchContent,
	})
	if err != nil {
		return err
	}
	if resp.Status == runner.StatusStarted {
		fmt.Fprintf(cmd.ErrOrStderr(), "Searching %s (estimated %s)\n",
			strings.Join(resp.Request.Sources, ", "),
			report.EstimateTime(resp.Request.Limit, len(resp.Request.Sources), resp.Request.IncludeContent))
	}

	view := waitForJob(ctx, a.Service, resp.ID, searchPoll, cmd.ErrOrStderr())
	return printJob(cmd.OutOrStdout(), cmd.ErrOrStderr(), view, searchJSON)
}

// waitForJob polls until the job leaves the running state. Progress lines
// are written to w whenever they change. When ctx ends the job is cancelled.
func waitForJob(ctx context.Context, svc *runner.Service, id string, interval time.Duration, w io.Writer) runner.JobView {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		view := svc.GetJobStatus(id)
		if view.Status != string(task.StatusRunning) {
			return view
		}
		if p := view.Progress; p != nil {
			line := fmt.Sprintf("[%3d%%] %s - %s", p.Percentage, p.Stage, p.Message)
			if line != last {
				fmt.Fprintln(w, line)
				last = line
			}
		}

		select {
		case <-ctx.Done():
			svc.CancelJob(id)
			fmt.Fprintln(w, "Cancelling search...")
			// The job is already marked cancelled; one more read returns it.
			return svc.GetJobStatus(id)
		case <-ticker.C:
		}
	}
}

func printJob(out, errOut io.Writer, view runner.JobView, asJSON bool) error {
	if asJSON {
		if err := report.WriteJSON(out, view); err != nil {
			return err
		}
	} else {
		for _, f := range view.Failures {
			fmt.Fprintf(errOut, "Warning: %s failed: %s\n", report.DisplayName(f.Source), f.Error)
		}
		if view.Status == string(task.StatusCompleted) {
			if err := report.WriteResults(out, view.Query, view.Sources, view.Results); err != nil {
				return err
			}
		}
	}

	switch view.Status {
	case string(task.StatusCompleted):
		return nil
	case string(task.StatusFailed):
		return fmt.Errorf("search failed: %s", view.Error)
	case string(task.StatusCancelled):
		return fmt.Errorf("search cancelled")
	}
	return fmt.Errorf("search %s: %s", view.Status, view.Message)
}
