package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/ntegrals/openbrowser/internal/llm"
	"github.com/ntegrals/openbrowser/internal/stepper"
	"github.com/ntegrals/openbrowser/internal/version"
)

// Server exposes a Catalog's registered actions as tools on an MCP server,
// letting an external MCP client drive the same closed command set the
// Step Loop itself uses (§4.4). It is the mirror image of Client: Client
// pulls external tools in, Server pushes the catalog's tools out.
type Server struct {
	mcp *mcppkg.Server
}

// NewServer builds an MCP server advertising one tool per action in
// catalog, dispatching each call through commands.NewExecutor(catalog, ec).
func NewServer(catalog *commands.Catalog, ec *commands.ExecutionContext) *Server {
	impl := &mcppkg.Implementation{Name: "openbrowser", Version: version.Version}
	s := mcppkg.NewServer(impl, nil)
	executor := commands.NewExecutor(catalog, ec)

	for _, schema := range stepper.ToolSchemas(catalog) {
		action := commands.Action(schema.Name)
		tool := &mcppkg.Tool{Name: schema.Name, Description: schema.Description}
		mcppkg.AddTool(s, tool, toolHandler(executor, action))
	}
	return &Server{mcp: s}
}

// toolHandler adapts one catalog action into an MCP tool call handler: the
// arguments become the Command's Raw params, Execute validates and
// dispatches through the same path the Step Loop itself uses, and the
// Result's extracted content (or error) becomes the tool's text response.
func toolHandler(executor *commands.Executor, action commands.Action) func(context.Context, *mcppkg.CallToolRequest, map[string]any) (*mcppkg.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcppkg.CallToolRequest, args map[string]any) (*mcppkg.CallToolResult, any, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		cmd, err := stepper.ParseCommand(llm.ToolCall{Name: string(action), Args: raw})
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		res := executor.Execute(ctx, cmd)
		if !res.Success {
			return errorResult(res.Error), nil, nil
		}
		return &mcppkg.CallToolResult{
			Content: []mcppkg.Content{&mcppkg.TextContent{Text: res.ExtractedContent}},
		}, nil, nil
	}
}

func errorResult(msg string) *mcppkg.CallToolResult {
	return &mcppkg.CallToolResult{
		IsError: true,
		Content: []mcppkg.Content{&mcppkg.TextContent{Text: msg}},
	}
}

// Serve runs the MCP server over Streamable HTTP at addr until ctx is
// canceled, wiring config.MCPConfig.ListenAddr up to a live listener.
func (s *Server) Serve(ctx context.Context, addr string) error {
	handler := mcppkg.NewStreamableHTTPHandler(func(*http.Request) *mcppkg.Server { return s.mcp }, nil)
	httpServer := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()
	log.Info().Str("addr", addr).Msg("mcp: serving command catalog over streamable http")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
