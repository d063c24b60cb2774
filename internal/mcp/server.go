// Package mcp serves the built-in meeting tools to Model Context Protocol
// clients over the streamable HTTP transport.
//
// Lifecycle:
//
//  1. Call [NewServer] with the tool sets to expose (see the tools
//     sub-packages).
//  2. Mount [Server.Handler] on the HTTP mux, or attach a transport
//     directly with [Server.Connect].
//
// All methods are safe for concurrent use.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/observe"
)

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records each tool call as a provider request of kind "mcp".
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server exposes [tools.Tool] values through the MCP go-sdk.
type Server struct {
	sdk     *mcpsdk.Server
	metrics *observe.Metrics
	version string
	names   []string
}

// NewServer registers every tool of every set. Tool names must be unique
// and every tool needs a handler.
func NewServer(name string, sets [][]tools.Tool, opts ...Option) (*Server, error) {
	s := &Server{version: "dev"}
	for _, o := range opts {
		o(s)
	}
	s.sdk = mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: s.version}, nil)

	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, t := range set {
			if t.Name == "" {
				return nil, errors.New("mcp: tool must have a non-empty name")
			}
			if t.Handler == nil {
				return nil, fmt.Errorf("mcp: tool %q has no handler", t.Name)
			}
			if _, dup := seen[t.Name]; dup {
				return nil, fmt.Errorf("mcp: duplicate tool %q", t.Name)
			}
			seen[t.Name] = struct{}{}
			s.names = append(s.names, t.Name)

			schema := t.InputSchema
			if schema == nil {
				schema = tools.ObjectSchema(nil)
			}
			s.sdk.AddTool(&mcpsdk.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			}, s.wrap(t))
		}
	}
	return s, nil
}

// Tools returns the registered tool names in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.names...)
}

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.sdk }, nil)
}

// Connect serves one session over t until the peer disconnects.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	ss, err := s.sdk.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect: %w", err)
	}
	return ss, nil
}

// wrap adapts a tool handler to the SDK. Handler errors become tool results
// with IsError set so the calling model can see them.
func (s *Server) wrap(t tools.Tool) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		if t.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.Timeout)
			defer cancel()
		}

		args := "{}"
		if req != nil && req.Params != nil && len(req.Params.Arguments) > 0 {
			args = string(req.Params.Arguments)
		}

		start := time.Now()
		out, err := t.Handler(ctx, args)
		status := "ok"
		if err != nil {
			status = "error"
			slog.Warn("mcp tool failed", "tool", t.Name, "duration", time.Since(start), "err", err)
		} else {
			slog.Debug("mcp tool called", "tool", t.Name, "duration", time.Since(start))
		}
		if s.metrics != nil {
			s.metrics.RecordProviderRequest(ctx, "mcp", status)
		}

		if err != nil {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			}, nil
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
		}, nil
	}
}
