// Package statstool exposes the live pipeline statistics as an MCP tool.
package statstool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/pipeline"
)

// NewTools returns the "pipeline_stats" tool. stats is called once per
// invocation and must be safe for concurrent use.
func NewTools(stats func() pipeline.Stats) []tools.Tool {
	return []tools.Tool{{
		Name:        "pipeline_stats",
		Description: "Report the live state of the audio pipeline: session state, queue depth and drops, VAD decisions, transcription and suggestion totals, and p50/p95 stage latencies.",
		InputSchema: tools.ObjectSchema(nil),
		Handler: func(context.Context, string) (string, error) {
			b, err := json.Marshal(stats())
			if err != nil {
				return "", fmt.Errorf("stats tool: pipeline_stats: failed to encode result: %w", err)
			}
			return string(b), nil
		},
		Timeout: time.Second,
	}}
}
