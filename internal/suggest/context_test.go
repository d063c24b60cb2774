package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm"
	llmmock "github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/llm/mock"
)

// mockSummariser is a test double for Summariser.
type mockSummariser struct {
	result string
	err    error
	inputs []string
}

func (m *mockSummariser) Summarise(_ context.Context, text string) (string, error) {
	m.inputs = append(m.inputs, text)
	return m.result, m.err
}

func TestContextManager_DropsOldest(t *testing.T) {
	cm := NewContextManager(30, nil)
	ctx := context.Background()
	cm.Add(ctx, "alpha alpha")
	cm.Add(ctx, "bravo bravo")
	if got := cm.Text(); got != "alpha alpha bravo bravo" {
		t.Fatalf("Text() = %q", got)
	}
	cm.Add(ctx, "charlie charlie")
	got := cm.Text()
	if strings.Contains(got, "alpha") {
		t.Errorf("oldest fragment kept: %q", got)
	}
	if !strings.HasSuffix(got, "charlie charlie") {
		t.Errorf("newest fragment missing: %q", got)
	}
	if len(got) > 30 {
		t.Errorf("len(Text()) = %d, exceeds budget", len(got))
	}
}

func TestContextManager_OversizedFragmentKeepsTail(t *testing.T) {
	cm := NewContextManager(10, nil)
	cm.Add(context.Background(), "0123456789abcdef")
	if got := cm.Text(); got != "789abcdef" {
		t.Errorf("Text() = %q, want tail", got)
	}
}

func TestContextManager_Summarises(t *testing.T) {
	s := &mockSummariser{result: "they agreed on alpha"}
	cm := NewContextManager(30, s)
	ctx := context.Background()
	cm.Add(ctx, "alpha alpha")
	cm.Add(ctx, "bravo bravo")
	cm.Add(ctx, "charlie charlie")

	if len(s.inputs) == 0 || !strings.Contains(s.inputs[0], "alpha alpha") {
		t.Fatalf("summariser inputs = %q", s.inputs)
	}
	got := cm.Text()
	if !strings.HasPrefix(got, "[Earlier summary]: ") || !strings.HasSuffix(got, "charlie charlie") {
		t.Errorf("Text() = %q", got)
	}
}

func TestContextManager_SummariserFailureDrops(t *testing.T) {
	s := &mockSummariser{err: errors.New("llm down")}
	cm := NewContextManager(30, s)
	ctx := context.Background()
	cm.Add(ctx, "alpha alpha")
	cm.Add(ctx, "bravo bravo")
	cm.Add(ctx, "charlie charlie")
	if got := cm.Text(); strings.Contains(got, "alpha") || strings.Contains(got, "summary") {
		t.Errorf("Text() = %q", got)
	}
}

func TestContextManager_TailAndReset(t *testing.T) {
	cm := NewContextManager(0, nil)
	ctx := context.Background()
	cm.Add(ctx, "the quick brown fox")
	cm.Add(ctx, "jumps over the lazy dog")
	if got := cm.Tail(12); got != "lazy dog" {
		t.Errorf("Tail(12) = %q, want word-aligned tail", got)
	}
	if got := cm.Tail(1000); got != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("Tail(1000) = %q", got)
	}
	if cm.TokenEstimate() == 0 {
		t.Error("TokenEstimate() = 0")
	}
	cm.Reset()
	if cm.Text() != "" || cm.TokenEstimate() != 0 {
		t.Error("Reset left state behind")
	}
}

func TestLLMSummariser(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  short summary \n"}}
	s := NewLLMSummariser(p)

	got, err := s.Summarise(context.Background(), "a long transcript")
	if err != nil {
		t.Fatal(err)
	}
	if got != "short summary" {
		t.Errorf("Summarise() = %q", got)
	}
	if p.CompleteCalls[0].Req.Messages[0].Content != "a long transcript" {
		t.Error("transcript not forwarded")
	}

	empty, err := s.Summarise(context.Background(), "   ")
	if err != nil || empty != "" || p.CompleteCallCount() != 1 {
		t.Errorf("blank input: %q, %v, calls %d", empty, err, p.CompleteCallCount())
	}
}
