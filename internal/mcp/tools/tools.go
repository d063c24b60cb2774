// Package tools defines the shared [Tool] type used by the built-in MCP tool
// packages. Each sub-package exports a constructor that returns a slice of
// [Tool] values ready for registration with the MCP server.
package tools

import (
	"context"
	"time"
)

// Tool is a built-in tool ready for registration with the MCP server.
type Tool struct {
	// Name is the unique tool identifier exposed to MCP clients.
	Name string

	// Description tells the calling model what the tool does.
	Description string

	// InputSchema is the JSON Schema object describing the arguments. It must
	// have "type": "object".
	InputSchema map[string]any

	// Handler executes the tool with JSON-encoded args and returns a
	// JSON-encoded result on success, or a descriptive error.
	// Implementations must be safe for concurrent use and must respect
	// context cancellation.
	Handler func(ctx context.Context, args string) (string, error)

	// Timeout bounds a single call. Zero means no bound beyond the caller's
	// context.
	Timeout time.Duration
}

// ObjectSchema builds an object schema from its properties and required
// field names.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
