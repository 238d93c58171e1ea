// Package mcp exposes the analysis service as MCP tools so coding agents
// can submit and poll reviews over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/critic/internal/service"
	"github.com/joescharf/critic/internal/store"
)

// Server wraps the analysis service and exposes it as MCP tools.
type Server struct {
	svc *service.Service
}

// NewServer creates the MCP server wrapper.
func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("critic", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.analyzeTool())
	srv.AddTool(s.statusTool())
	srv.AddTool(s.resultTool())
	srv.AddTool(s.listTasksTool())
	srv.AddTool(s.cancelTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// critic_analyze
func (s *Server) analyzeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("critic_analyze",
		mcp.WithDescription("Submit a repository or pull request for asynchronous code review. Returns the task as JSON; poll critic_status with the task id. Resubmitting the same repository, change set, and analysis type while a task is still in flight returns the existing task."),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository as owner/name or a GitHub URL")),
		mcp.WithNumber("change_set", mcp.Description("Pull request number; omit to analyze the whole repository")),
		mcp.WithString("analysis_type", mcp.Description("Analysis type: full (default), security, performance, quality")),
	)
	return tool, s.handleAnalyze
}

func (s *Server) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repo, err := request.RequireString("repository")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repository"), nil
	}

	t, err := s.svc.Submit(ctx, service.SubmitRequest{
		Repo:         repo,
		ChangeSet:    request.GetInt("change_set", 0),
		AnalysisType: request.GetString("analysis_type", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", err)), nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal task: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// critic_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("critic_status",
		mcp.WithDescription("Get the status of an analysis task: state, progress percentage, attempt count, and diagnostics. Does not include the report body; use critic_result for that."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID returned by critic_analyze")),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}

	t, err := s.svc.Status(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal task: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// critic_result
func (s *Server) resultTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("critic_result",
		mcp.WithDescription("Get the report of a completed analysis task: per-file issues with type, line, severity, description, and suggestion, plus summary counts. Fails while the task is still running."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID returned by critic_analyze")),
	)
	return tool, s.handleResult
}

func (s *Server) handleResult(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}

	rep, err := s.svc.Result(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("result not available: %v", err)), nil
	}

	data, err := json.Marshal(rep)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// critic_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("critic_list_tasks",
		mcp.WithDescription("List analysis tasks newest first, optionally filtered by repository and change set. Returns a JSON array of tasks without report bodies."),
		mcp.WithString("repository", mcp.Description("Filter by repository as owner/name")),
		mcp.WithNumber("change_set", mcp.Description("Filter by pull request number")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.svc.List(ctx, store.ListFilter{
		Repo:      request.GetString("repository", ""),
		ChangeSet: request.GetInt("change_set", 0),
		Limit:     request.GetInt("limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}

	data, err := json.Marshal(tasks)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// critic_cancel
func (s *Server) cancelTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("critic_cancel",
		mcp.WithDescription("Cancel a queued or running analysis task. A task that already finished cannot be cancelled."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID to cancel")),
	)
	return tool, s.handleCancel
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: task_id"), nil
	}

	t, err := s.svc.Cancel(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal task: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
