package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/FranksOps/sift/internal/report"
	"github.com/FranksOps/sift/internal/runner"
	"github.com/FranksOps/sift/internal/search"
	"github.com/FranksOps/sift/internal/task"
	"github.com/FranksOps/sift/pkg/ratelimit"
)

func pollHint(id string) string {
	return fmt.Sprintf("IMPORTANT: call get_search_status with task_id='%s' every 10-15 seconds "+
		"until the status is 'completed' or 'failed'.", id)
}

// handleStartSearch implements the start_vertical_search tool
func (s *Server) handleStartSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("Error: query parameter is required"), nil
	}
	include := request.GetBool("include_content", true)
	req := runner.StartRequest{
		Query:          query,
		Sources:        request.GetString("platform", search.AllSources),
		Limit:          request.GetInt("max_results", 0),
		IncludeContent: &include,
	}

	resp, err := s.svc.StartJob(ctx, req)
	if err != nil {
		var verr *search.ValidationError
		var lerr *ratelimit.LimitError
		switch {
		case errors.As(err, &verr):
			return mcp.NewToolResultError(fmt.Sprintf("Error: %v", verr)), nil
		case errors.As(err, &lerr):
			s.logger.Warn("search request refused", "err", err)
			return mcp.NewToolResultError("Error: too many search requests, try again shortly"), nil
		}
		s.logger.Error("start search failed", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start search task: %v", err)), nil
	}

	switch resp.Status {
	case string(task.StatusCompleted):
		s.logger.Info("search completed within grace period", "task_id", resp.ID, "count", resp.Count)
		return mcp.NewToolResultText(report.FormatResults(resp.Request.Query, resp.Request.Sources, resp.Results)), nil
	case string(task.StatusFailed):
		return mcp.NewToolResultError(fmt.Sprintf("Task failed.\nTASK_ID: %s\nError: %s", resp.ID, resp.Error)), nil
	}

	estimate := report.EstimateTime(resp.Request.Limit, len(resp.Request.Sources), resp.Request.IncludeContent)
	text := fmt.Sprintf("Search task started.\n\nTASK_ID: %s\n\n%s\n\nEstimated time: %s",
		resp.ID, pollHint(resp.ID), estimate)
	return mcp.NewToolResultText(text), nil
}

// handleGetStatus implements the get_search_status tool
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("task_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Error: task_id parameter is required"), nil
	}

	v := s.svc.GetJobStatus(id)
	elapsed := int(v.Elapsed)
	s.logger.Debug("search status polled", "task_id", id, "status", v.Status)

	switch v.Status {
	case runner.StatusNotFound:
		return mcp.NewToolResultText(fmt.Sprintf(
			"Task not found.\nTASK_ID: %s\nError: Task not found. It may have expired (tasks expire after %s).\n\n"+
				"Check that you are using the task_id returned by start_vertical_search.",
			id, humanMinutes(s.svc.MaxAge().Minutes()))), nil

	case string(task.StatusRunning):
		var progress string
		if p := v.Progress; p != nil {
			progress = fmt.Sprintf("\nProgress: %s - %s (%d%%)", p.Stage, p.Message, p.Percentage)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task still running.%s\n\nTASK_ID: %s\n\n%s\n\nElapsed time: %d seconds",
			progress, id, pollHint(id), elapsed)), nil

	case string(task.StatusCompleted):
		var b strings.Builder
		fmt.Fprintf(&b, "Task completed successfully.\nTASK_ID: %s\nTotal results: %d\nElapsed time: %d seconds\n",
			id, v.Count, elapsed)
		for _, f := range v.Failures {
			fmt.Fprintf(&b, "Warning: %s failed: %s\n", report.DisplayName(f.Source), f.Error)
		}
		b.WriteString("\n")
		b.WriteString(report.FormatResults(v.Query, v.Sources, v.Results))
		return mcp.NewToolResultText(b.String()), nil

	case string(task.StatusFailed):
		msg := v.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task failed.\nTASK_ID: %s\nError: %s\nElapsed time: %d seconds",
			id, msg, elapsed)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Task %s.\nTASK_ID: %s\nElapsed time: %d seconds", v.Status, id, elapsed)), nil
}

// handleCancel implements the cancel_search tool
func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("task_id")
	if err != nil || id == "" {
		return mcp.NewToolResultError("Error: task_id parameter is required"), nil
	}
	resp := s.svc.CancelJob(id)
	return mcp.NewToolResultText(fmt.Sprintf("TASK_ID: %s\nStatus: %s\n%s", resp.ID, resp.Status, resp.Message)), nil
}

// handleListPlatforms implements the list_platforms tool
func (s *Server) handleListPlatforms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := s.svc.Platforms()
	var b strings.Builder
	fmt.Fprintf(&b, "%d platform(s) available:\n", len(names))
	for _, n := range names {
		fmt.Fprintf(&b, "- %s (%s)\n", n, report.DisplayName(n))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func humanMinutes(m float64) string {
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%g minutes", m)
}
