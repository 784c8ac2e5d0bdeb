package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// startSearchTool returns the start_vertical_search tool definition
func startSearchTool(maxLimit int) mcp.Tool {
	return mcp.NewTool("start_vertical_search",
		mcp.WithDescription("Start an async search across one or more platforms. Returns a task_id "+
			"right away. Call get_search_status with that task_id every 10-15 seconds until the status "+
			"is completed or failed. Quick searches return their results directly."),
		mcp.WithString("platform",
			mcp.Description("Platform(s) to search: 'all' (default), a single platform like 'weixin', "+
				"or a comma separated list like 'weixin,google'"),
			mcp.DefaultString("all"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
			mcp.MinLength(1),
			mcp.MaxLength(100),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results across all platforms"),
			mcp.DefaultNumber(10),
			mcp.Min(1),
			mcp.Max(float64(maxLimit)),
		),
		mcp.WithBoolean("include_content",
			mcp.Description("Fetch the full article content behind each result (default: true)"),
			mcp.DefaultBool(true),
		),
	)
}

// getStatusTool returns the get_search_status tool definition
func getStatusTool() mcp.Tool {
	return mcp.NewTool("get_search_status",
		mcp.WithDescription("Get the status and results of a search task. Poll every 10-15 seconds "+
			"with the exact task_id from start_vertical_search until the status is completed or failed."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID returned by start_vertical_search"),
		),
	)
}

// cancelSearchTool returns the cancel_search tool definition
func cancelSearchTool() mcp.Tool {
	return mcp.NewTool("cancel_search",
		mcp.WithDescription("Cancel a running search task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID to cancel"),
		),
	)
}

// listPlatformsTool returns the list_platforms tool definition
func listPlatformsTool() mcp.Tool {
	return mcp.NewTool("list_platforms",
		mcp.WithDescription("List the platforms that can be searched"),
	)
}
