// Package mcp lets the Command Catalog (§4.4) reach out to external MCP
// tool servers and, separately, exposes the catalog's own actions as an MCP
// server's tools. Grounded on the teacher's internal/mcpclient package: the
// session-manager shape, the stdio-vs-HTTP transport branch, and the
// header-injecting RoundTripper for authenticated remote servers all carry
// over; what changes is the registry Client feeds into (commands.Catalog's
// Action/Handler pair instead of the teacher's tools.Registry).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/ntegrals/openbrowser/internal/config"
	"github.com/ntegrals/openbrowser/internal/version"
)

// Client holds active sessions against external MCP servers and tracks
// which catalog actions each session contributed, so a server can be
// removed (and its actions unregistered) without disturbing the rest.
type Client struct {
	sessions    map[string]*mcppkg.ClientSession
	actionNames map[string][]commands.Action
}

// NewClient returns an empty Client.
func NewClient() *Client {
	return &Client{
		sessions:    map[string]*mcppkg.ClientSession{},
		actionNames: map[string][]commands.Action{},
	}
}

// Close closes every active session.
func (c *Client) Close() {
	for _, s := range c.sessions {
		_ = s.Close()
	}
}

// RegisterFromConfig connects to every server in cfg.Servers and registers
// its tools into catalog, one server's failure to connect doesn't stop the
// rest from registering (§4.4: external tools are additive, never required
// for the closed command set to function).
func (c *Client) RegisterFromConfig(ctx context.Context, catalog *commands.Catalog, cfg config.MCPConfig) {
	for _, srv := range cfg.Servers {
		if err := c.RegisterOne(ctx, catalog, srv); err != nil {
			log.Warn().Err(err).Str("server", srv.Name).Msg("mcp: skipping server that failed to register")
		}
	}
}

// RegisterOne connects to a single MCP server and registers its tools into
// catalog as actions named "<server>_<tool>".
func (c *Client) RegisterOne(ctx context.Context, catalog *commands.Catalog, srv config.MCPServerConfig) error {
	if strings.TrimSpace(srv.Name) == "" {
		return fmt.Errorf("mcp: server name required")
	}
	c.RemoveOne(srv.Name)

	opts := &mcppkg.ClientOptions{}
	if srv.KeepAliveSeconds > 0 {
		opts.KeepAlive = time.Duration(srv.KeepAliveSeconds) * time.Second
	}
	client := mcppkg.NewClient(&mcppkg.Implementation{Name: "openbrowser", Version: version.Version}, opts)

	var session *mcppkg.ClientSession
	var err error
	switch {
	case strings.TrimSpace(srv.Command) != "":
		cleanCmd := filepath.Clean(srv.Command)
		if cleanCmd != srv.Command || filepath.IsAbs(cleanCmd) || strings.Contains(cleanCmd, string(os.PathSeparator)+"..") {
			return fmt.Errorf("mcp: invalid command path %q", srv.Command)
		}
		cmd := exec.Command(cleanCmd, srv.Args...)
		if len(srv.Env) > 0 {
			env := os.Environ()
			for k, v := range srv.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		session, err = client.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
	case strings.TrimSpace(srv.URL) != "":
		transport := &mcppkg.StreamableClientTransport{Endpoint: srv.URL, HTTPClient: buildHTTPClient()}
		session, err = client.Connect(ctx, transport, nil)
	default:
		return fmt.Errorf("mcp: server %q has neither command nor url", srv.Name)
	}
	if err != nil {
		return fmt.Errorf("mcp: connect to %q: %w", srv.Name, err)
	}
	c.sessions[srv.Name] = session

	var names []commands.Action
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			break
		}
		action := commands.Action(sanitizeName(srv.Name + "_" + tool.Name))
		catalog.Register(action, newExternalHandler(session, tool.Name))
		names = append(names, action)
	}
	c.actionNames[srv.Name] = names
	return nil
}

// RemoveOne closes the session for name, if any, and unregisters the
// actions it contributed. Unregistering isn't modeled on Catalog (actions
// are additive-only there), so a removed server's actions simply stop
// being callable against a live session; a fresh RegisterOne call replaces
// them.
func (c *Client) RemoveOne(name string) {
	if s, ok := c.sessions[name]; ok {
		_ = s.Close()
		delete(c.sessions, name)
	}
	delete(c.actionNames, name)
}

// newExternalHandler adapts one MCP tool into a commands.Handler that
// forwards cmd.Raw as the tool's arguments.
func newExternalHandler(session *mcppkg.ClientSession, toolName string) commands.Handler {
	return func(ctx context.Context, _ *commands.ExecutionContext, cmd commands.Command) commands.Result {
		var args any = map[string]any{}
		if len(cmd.Raw) > 0 {
			if err := json.Unmarshal(cmd.Raw, &args); err != nil {
				return commands.Result{Success: false, Error: fmt.Sprintf("mcp: decoding args for %q: %v", toolName, err)}
			}
		}
		res, err := session.CallTool(ctx, &mcppkg.CallToolParams{Name: toolName, Arguments: args})
		if err != nil {
			return commands.Result{Success: false, Error: err.Error()}
		}
		var texts []string
		for _, content := range res.Content {
			if tc, ok := content.(*mcppkg.TextContent); ok {
				texts = append(texts, tc.Text)
			}
		}
		text := strings.Join(texts, "\n")
		return commands.Result{Success: !res.IsError, ExtractedContent: text, IncludeInMemory: text != ""}
	}
}

func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}

// buildHTTPClient sets the Accept header the Streamable HTTP transport
// requires (application/json + text/event-stream) on every outbound
// request, mirroring the teacher's headerRoundTripper but dropping the
// proxy/TLS/bearer knobs it had, since config.MCPServerConfig doesn't carry
// them — a server reached over plain URL is assumed to need no extra auth.
func buildHTTPClient() *http.Client {
	return &http.Client{Transport: &headerRoundTripper{base: http.DefaultTransport}}
}

type headerRoundTripper struct {
	base http.RoundTripper
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}
	return t.base.RoundTrip(r)
}
