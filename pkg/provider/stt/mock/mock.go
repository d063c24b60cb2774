// Package mock provides a test double for the stt.Provider interface.
//
// Set Result/Err for a fixed response, Responses for a scripted sequence, or
// TranscribeFunc for full control. Every call is recorded.
//
// Example:
//
//	p := &mock.Provider{Result: &stt.Result{Text: "hello"}}
//	res, _ := p.Transcribe(ctx, stt.Request{Audio: wav})
//	_ = p.CallCount() // 1
package mock

import (
	"context"
	"sync"

	"github.com/faiq157/custom-ai-translator-suggestion/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the request passed to Transcribe. Audio is copied.
	Req stt.Request
}

// Response is one scripted outcome.
type Response struct {
	Result *stt.Result
	Err    error
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeFunc, if set, handles every call and overrides the fields below.
	TranscribeFunc func(ctx context.Context, req stt.Request) (*stt.Result, error)

	// Responses are consumed in order, one per call. When exhausted,
	// Result/Err are used.
	Responses []Response

	// Result is returned when no scripted response remains.
	Result *stt.Result

	// Err, if non-nil, is returned when no scripted response remains.
	Err error

	// --- Call records ---

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted outcome.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	p.mu.Lock()
	cp := req
	cp.Audio = append([]byte(nil), req.Audio...)
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: cp})
	fn := p.TranscribeFunc
	var next *Response
	if fn == nil && len(p.Responses) > 0 {
		r := p.Responses[0]
		p.Responses = p.Responses[1:]
		next = &r
	}
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if next != nil {
		return next.Result, next.Err
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return &stt.Result{}, nil
	}
	out := *result
	return &out, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
