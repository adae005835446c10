// Package bridge exposes the backend operation catalog as MCP tools over
// stdio. Every handler is a thin translation: decode arguments, invoke
// one catalog operation, render the payload or map the classified failure
// to actionable guidance.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lydakis/opencode-mcp/internal/opencode"
	"github.com/lydakis/opencode-mcp/internal/render"
	"github.com/lydakis/opencode-mcp/internal/transport"
)

const (
	defaultEventWait = 30 * time.Second
	maxEventWait     = 2 * time.Minute
)

// Catalog is the slice of the operation catalog the bridge dispatches to.
type Catalog interface {
	AppInfo(ctx context.Context) (json.RawMessage, error)
	Sessions(ctx context.Context, directory string) (json.RawMessage, error)
	CreateSession(ctx context.Context, p opencode.CreateSessionParams) (json.RawMessage, error)
	DeleteSession(ctx context.Context, sessionID, directory string) (json.RawMessage, error)
	Prompt(ctx context.Context, p opencode.PromptParams) (json.RawMessage, error)
	Abort(ctx context.Context, sessionID, directory string) (json.RawMessage, error)
	Messages(ctx context.Context, sessionID, directory string) (json.RawMessage, error)
	ReadFile(ctx context.Context, filePath, directory string) (json.RawMessage, error)
	FileStatus(ctx context.Context, directory string) (json.RawMessage, error)
	Find(ctx context.Context, pattern, directory string) (json.RawMessage, error)
	Events(ctx context.Context) (*transport.Subscription, error)
}

// EventSource is one open event stream.
type EventSource interface {
	Next(ctx context.Context) (transport.Event, error)
	Close()
}

// Bridge registers the tool surface on an MCP server.
type Bridge struct {
	catalog Catalog

	// openEvents is replaceable in tests where no backend listens.
	openEvents func(ctx context.Context) (EventSource, error)
}

func New(catalog Catalog) *Bridge {
	return &Bridge{
		catalog: catalog,
		openEvents: func(ctx context.Context) (EventSource, error) {
			return catalog.Events(ctx)
		},
	}
}

// NewServer builds the stdio MCP server with the full tool surface.
func NewServer(catalog Catalog, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"opencode-mcp",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Bridge to a local OpenCode server: create sessions, send prompts, inspect files and events."),
	)
	New(catalog).Register(s)
	return s
}

// Serve runs the server over stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// Register adds every tool to s.
func (b *Bridge) Register(s *server.MCPServer) {
	dirOpt := mcp.WithString("directory",
		mcp.Description("Absolute path of the project directory to scope the call to"))

	s.AddTool(mcp.NewTool("opencode_app_info",
		mcp.WithDescription("Describe the connected OpenCode server"),
	), b.handleAppInfo)

	s.AddTool(mcp.NewTool("opencode_session_list",
		mcp.WithDescription("List sessions"),
		dirOpt,
	), b.handleSessionList)

	s.AddTool(mcp.NewTool("opencode_session_create",
		mcp.WithDescription("Create a new session"),
		mcp.WithString("title", mcp.Description("Human-readable session title")),
		dirOpt,
	), b.handleSessionCreate)

	s.AddTool(mcp.NewTool("opencode_session_delete",
		mcp.WithDescription("Delete a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		dirOpt,
	), b.handleSessionDelete)

	s.AddTool(mcp.NewTool("opencode_prompt",
		mcp.WithDescription("Send a prompt to a session and wait for the agent's reply"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Prompt text")),
		mcp.WithString("model", mcp.Description("Model as provider/model, e.g. anthropic/claude-sonnet-4")),
		mcp.WithString("agent", mcp.Description("Agent to handle the prompt")),
		dirOpt,
	), b.handlePrompt)

	s.AddTool(mcp.NewTool("opencode_session_abort",
		mcp.WithDescription("Abort a session's in-flight work"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		dirOpt,
	), b.handleSessionAbort)

	s.AddTool(mcp.NewTool("opencode_session_messages",
		mcp.WithDescription("Read a session's message history"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		dirOpt,
	), b.handleSessionMessages)

	s.AddTool(mcp.NewTool("opencode_file_read",
		mcp.WithDescription("Read a file from the project"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Project-relative file path")),
		dirOpt,
	), b.handleFileRead)

	s.AddTool(mcp.NewTool("opencode_file_status",
		mcp.WithDescription("Show tracked-file status for the project"),
		dirOpt,
	), b.handleFileStatus)

	s.AddTool(mcp.NewTool("opencode_find",
		mcp.WithDescription("Search project text"),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Search pattern")),
		dirOpt,
	), b.handleFind)

	s.AddTool(mcp.NewTool("opencode_event_wait",
		mcp.WithDescription("Wait for the next server event, up to a timeout"),
		mcp.WithNumber("timeout_ms", mcp.Description("How long to wait, default 30000, max 120000")),
	), b.handleEventWait)
}

func (b *Bridge) handleAppInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return payloadResult(b.catalog.AppInfo(ctx))
}

func (b *Bridge) handleSessionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return payloadResult(b.catalog.Sessions(ctx, req.GetString("directory", "")))
}

func (b *Bridge) handleSessionCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return payloadResult(b.catalog.CreateSession(ctx, opencode.CreateSessionParams{
		Title:     req.GetString("title", ""),
		Directory: req.GetString("directory", ""),
	}))
}

func (b *Bridge) handleSessionDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return payloadResult(b.catalog.DeleteSession(ctx, id, req.GetString("directory", "")))
}

func (b *Bridge) handlePrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return payloadResult(b.catalog.Prompt(ctx, opencode.PromptParams{
		SessionID: id,
		Text:      text,
		Model:     req.GetString("model", ""),
		Agent:     req.GetString("agent", ""),
		Directory: req.GetString("directory", ""),
	}))
}

func (b *Bridge) handleSessionAbort(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return payloadResult(b.catalog.Abort(ctx, id, req.GetString("directory", "")))
}

func (b *Bridge) handleSessionMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return payloadResult(b.catalog.Messages(ctx, id, req.GetString("directory", "")))
}

func (b *Bridge) handleFileRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return payloadResult(b.catalog.ReadFile(ctx, path, req.GetString("directory", "")))
}

func (b *Bridge) handleFileStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return payloadResult(b.catalog.FileStatus(ctx, req.GetString("directory", "")))
}

func (b *Bridge) handleFind(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return payloadResult(b.catalog.Find(ctx, pattern, req.GetString("directory", "")))
}

func (b *Bridge) handleEventWait(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wait := defaultEventWait
	if ms := req.GetFloat("timeout_ms", 0); ms > 0 {
		wait = time.Duration(ms) * time.Millisecond
		if wait > maxEventWait {
			wait = maxEventWait
		}
	}

	sub, err := b.openEvents(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	defer sub.Close()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ev, err := sub.Next(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil {
			return mcp.NewToolResultText(fmt.Sprintf("no event within %v", wait)), nil
		}
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(render.Event(ev.Type, ev.Data)), nil
}

func payloadResult(raw json.RawMessage, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	if transport.IsNoContent(raw) {
		return mcp.NewToolResultText("done"), nil
	}
	return mcp.NewToolResultText(render.JSON(raw)), nil
}

// errorResult turns a classified failure into guidance the MCP client can
// act on without reading bridge internals.
func errorResult(err error) *mcp.CallToolResult {
	terr, ok := transport.AsError(err)
	if !ok {
		return mcp.NewToolResultError(err.Error())
	}

	msg := terr.Error()
	switch terr.Kind {
	case transport.KindAuth:
		msg += "\ncheck OPENCODE_SERVER_USERNAME and OPENCODE_SERVER_PASSWORD"
	case transport.KindNotFound:
		msg += "\nthe id or path does not exist on the server; list first"
	case transport.KindTransientConnection, transport.KindSupervision:
		msg += "\nthe OpenCode server is unreachable; start it with `opencode serve` or enable auto_start"
	case transport.KindValidation:
		// Message already names the bad argument.
	}
	return mcp.NewToolResultError(msg)
}
