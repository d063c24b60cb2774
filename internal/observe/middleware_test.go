package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newMiddleware returns the middleware with a manual metric reader and an
// in-memory span exporter installed globally.
func newMiddleware(t *testing.T) (func(http.Handler) http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := useTestTracer(t)
	return Middleware(m), reader, exp
}

func spanStatus(t *testing.T, exp *tracetest.InMemoryExporter, name string) int64 {
	t.Helper()
	for _, s := range exp.GetSpans() {
		if s.Name != name {
			continue
		}
		for _, a := range s.Attributes {
			if a.Key == "http.response.status_code" {
				return a.Value.AsInt64()
			}
		}
		t.Fatalf("span %q has no status code attribute", name)
	}
	t.Fatalf("span %q not recorded; have %d spans", name, len(exp.GetSpans()))
	return 0
}

func TestMiddleware_APIRequests(t *testing.T) {
	mw, reader, exp := newMiddleware(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/segments", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"no active meeting"}`, http.StatusConflict)
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"state":"idle"}`))
	})
	h := mw(mux)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/api/segments", http.StatusConflict},
		{http.MethodGet, "/api/stats", http.StatusOK},
		{http.MethodGet, "/api/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
		if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
			t.Errorf("%s %s: X-Correlation-ID = %q", tt.method, tt.path, cid)
		}
		if got := spanStatus(t, exp, "HTTP "+tt.method+" "+tt.path); got != int64(tt.want) {
			t.Errorf("%s %s: span status = %d, want %d", tt.method, tt.path, got, tt.want)
		}
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "suggestd.http.request.duration")
	if met == nil {
		t.Fatal("http duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want histogram", met.Data)
	}
	paths := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		p, _ := dp.Attributes.Value("path")
		paths[p.AsString()] += dp.Count
	}
	for _, tt := range tests {
		if paths[tt.path] != 1 {
			t.Errorf("duration samples for %s = %d, want 1", tt.path, paths[tt.path])
		}
	}
}

func TestMiddleware_ContinuesCallerTrace(t *testing.T) {
	mw, _, _ := newMiddleware(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var inHandler string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = CorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/segments", strings.NewReader("RIFF"))
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if inHandler != traceID {
		t.Errorf("handler trace = %q, want %q", inHandler, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("response traceparent = %q, want the caller's trace", tp)
	}
}

func TestMiddleware_FlushThroughUnwrap(t *testing.T) {
	mw, _, _ := newMiddleware(t)

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("event: stats\n\n"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush through middleware: %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if !rec.Flushed {
		t.Error("response was not flushed to the underlying writer")
	}
}

func TestMiddleware_WebSocketUpgrade(t *testing.T) {
	mw, _, exp := newMiddleware(t)

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept through middleware: %v", err)
			return
		}
		defer c.CloseNow()
		_ = wsjson.Write(r.Context(), c, map[string]string{"type": "session", "state": "running"})
	}))
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	var ev map[string]string
	if err := wsjson.Read(ctx, c, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev["type"] != "session" {
		t.Errorf("event = %v", ev)
	}

	// The span ends after the handler returns.
	deadline := time.Now().Add(2 * time.Second)
	for len(exp.GetSpans()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := spanStatus(t, exp, "HTTP GET /ws"); got != http.StatusSwitchingProtocols {
		t.Errorf("span status = %d, want 101", got)
	}
}
