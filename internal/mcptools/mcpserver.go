package mcptools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewCourseMCPServer creates an MCP server with the course tools registered:
// start_stage, abort_stage, edit_stage, save_stage, get_status,
// resolve_change and send_chat.
func NewCourseMCPServer(svc *CourseService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "coursegen",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_stage",
		Description: "Generate one course design stage (1-3). Stage 2 needs stage 1 content and stage 3 needs stage 2 content.",
	}, svc.StartStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "abort_stage",
		Description: "Cancel a running stage generation and restore its previous status.",
	}, svc.AbortStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "edit_stage",
		Description: "Replace the markdown of a completed stage. The edit is saved after a short delay or by save_stage.",
	}, svc.EditStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "save_stage",
		Description: "Save an edited stage now. Returns the downstream stages that may be stale.",
	}, svc.SaveStage)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_status",
		Description: "Get the status of every stage, the pending change notice and the next stage to generate.",
	}, svc.GetStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_change",
		Description: "Answer the pending change notice: regenerate the affected stages, cancel, or skip notices for this session.",
	}, svc.ResolveChange)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "send_chat",
		Description: "Ask the course design assistant about a stage. May return a regenerate request to pass to start_stage.",
	}, svc.SendChat)

	return server
}

// RunCourseMCPServerStdio runs the MCP server on stdio transport, blocking
// until stdin is closed or the context is cancelled.
func RunCourseMCPServerStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
