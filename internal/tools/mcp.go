package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dohr-michael/sidekick/internal/config"
)

// MCPRegistry connects to external MCP tool servers over stdio and exposes
// their tools through the same Tool interface as builtins. Discovered names
// are prefixed with the server name ("server/tool") so they can never
// shadow a builtin.
type MCPRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	tools    map[string]*mcpTool
}

// NewMCPRegistry connects to each configured server and discovers its
// tools. A server that fails to connect is logged and skipped so one bad
// entry does not take the whole tool surface down.
func NewMCPRegistry(ctx context.Context, servers map[string]config.MCPServerConfig) *MCPRegistry {
	r := &MCPRegistry{
		sessions: make(map[string]*mcpsdk.ClientSession),
		tools:    make(map[string]*mcpTool),
	}

	for name, cfg := range servers {
		if err := r.connect(ctx, name, cfg); err != nil {
			slog.Warn("mcp server unavailable", "server", name, "error", err)
		}
	}
	return r
}

func (r *MCPRegistry) connect(ctx context.Context, name string, cfg config.MCPServerConfig) error {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "sidekick",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, &mcpsdk.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}

	listed, err := session.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("list tools %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[name] = session
	for _, t := range listed.Tools {
		qualified := name + "/" + t.Name
		r.tools[qualified] = &mcpTool{
			session:     session,
			remoteName:  t.Name,
			name:        qualified,
			description: t.Description,
		}
		slog.Debug("mcp tool discovered", "tool", qualified)
	}
	return nil
}

// Tool returns the discovered tool for a qualified name.
func (r *MCPRegistry) Tool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all discovered tool names, sorted.
func (r *MCPRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down all server sessions.
func (r *MCPRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, session := range r.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	r.sessions = make(map[string]*mcpsdk.ClientSession)
	r.tools = make(map[string]*mcpTool)
	return firstErr
}

// mcpTool proxies one remote tool through an MCP session.
type mcpTool struct {
	session     *mcpsdk.ClientSession
	remoteName  string
	name        string
	description string
}

func (t *mcpTool) Name() string        { return t.name }
func (t *mcpTool) Description() string { return t.description }

func (t *mcpTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var arguments map[string]any
	if err := decodeArgs(t.name, args, &arguments); err != nil {
		return nil, err
	}

	result, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.remoteName,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		return nil, fmt.Errorf("%s: %s", t.name, text)
	}
	return map[string]string{"content": text}, nil
}
