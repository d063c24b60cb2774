package mcp_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/history"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools/meetingtool"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/mcp/tools/statstool"
	"github.com/faiq157/custom-ai-translator-suggestion/internal/pipeline"
)

// connect starts srv on in-memory transports and returns a client session.
func connect(t *testing.T, srv *mcp.Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	ct, st := mcpsdk.NewInMemoryTransports()

	ss, err := srv.Connect(ctx, st)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func text(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func newServer(t *testing.T, store history.Store) *mcp.Server {
	t.Helper()
	stats := func() pipeline.Stats { return pipeline.Stats{State: "running", MeetingID: "m1"} }
	srv, err := mcp.NewServer("suggestd-test", [][]tools.Tool{
		meetingtool.NewTools(store),
		statstool.NewTools(stats),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestServer_ListTools(t *testing.T) {
	t.Parallel()
	srv := newServer(t, history.NewMemStore())
	cs := connect(t, srv)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"list_meetings", "get_transcript", "search_transcripts", "pipeline_stats"} {
		if !slices.Contains(names, want) {
			t.Errorf("tool %q missing from %v", want, names)
		}
	}
	if len(names) != len(srv.Tools()) {
		t.Errorf("listed %d tools, registered %d", len(names), len(srv.Tools()))
	}
}

func TestServer_CallTool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := history.NewMemStore()
	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	if err := store.CreateMeeting(ctx, history.Meeting{ID: "m1", Title: "Standup", StartedAt: start}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendTranscript(ctx, history.Entry{MeetingID: "m1", Text: "the api migration is blocked", Timestamp: start}); err != nil {
		t.Fatal(err)
	}
	cs := connect(t, newServer(t, store))

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "search_transcripts",
		Arguments: map[string]any{"query": "migration"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", text(res))
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(text(res)), &entries); err != nil {
		t.Fatalf("decode: %v (%s)", err, text(res))
	}
	if len(entries) != 1 || entries[0]["text"] != "the api migration is blocked" {
		t.Errorf("entries = %v", entries)
	}

	res, err = cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "pipeline_stats", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool pipeline_stats: %v", err)
	}
	var stats pipeline.Stats
	if err := json.Unmarshal([]byte(text(res)), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.State != "running" || stats.MeetingID != "m1" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestServer_ToolErrorIsResult(t *testing.T) {
	t.Parallel()
	cs := connect(t, newServer(t, history.NewMemStore()))

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "get_transcript",
		Arguments: map[string]any{"meeting_id": "missing"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError result")
	}
	if !strings.Contains(text(res), "not found") {
		t.Errorf("error text = %q", text(res))
	}
}

func TestServer_Timeout(t *testing.T) {
	t.Parallel()
	slow := tools.Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
		Timeout: 20 * time.Millisecond,
	}
	srv, err := mcp.NewServer("t", [][]tools.Tool{{slow}})
	if err != nil {
		t.Fatal(err)
	}
	cs := connect(t, srv)

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: "slow", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || !strings.Contains(text(res), context.DeadlineExceeded.Error()) {
		t.Errorf("result = %+v %q", res, text(res))
	}
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()
	ok := func(context.Context, string) (string, error) { return "", nil }

	tests := []struct {
		name string
		sets [][]tools.Tool
	}{
		{"empty name", [][]tools.Tool{{{Handler: ok}}}},
		{"nil handler", [][]tools.Tool{{{Name: "x"}}}},
		{"duplicate", [][]tools.Tool{{{Name: "x", Handler: ok}}, {{Name: "x", Handler: ok}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := mcp.NewServer("t", tt.sets); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestServer_StreamableHTTP(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(newServer(t, history.NewMemStore()).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "http-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: ts.URL}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: "list_meetings", Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError || text(res) != "[]" {
		t.Errorf("list_meetings = %q (error=%v)", text(res), res.IsError)
	}
}
