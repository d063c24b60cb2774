package pipeline

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage identifies a timed pipeline step.
type Stage int

const (
	StageVAD Stage = iota
	StageTranscription
	StageSuggestion
	StageSegment
	numStages
)

// LatencyPercentiles holds p50 and p95 values for a latency stage.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
}

// LatencySnapshot is a point-in-time view of all stage latencies.
type LatencySnapshot struct {
	VAD           LatencyPercentiles `json:"vad"`
	Transcription LatencyPercentiles `json:"transcription"`
	Suggestion    LatencyPercentiles `json:"suggestion"`
	Segment       LatencyPercentiles `json:"segment"`
}

// Latencies keeps a bounded window of recent samples per stage and computes
// percentiles on demand. Safe for concurrent use.
type Latencies struct {
	mu     sync.Mutex
	stages [numStages]latencyBuffer
}

// NewLatencies creates a tracker retaining windowSize samples per stage.
// A non-positive size defaults to 100.
func NewLatencies(windowSize int) *Latencies {
	if windowSize <= 0 {
		windowSize = 100
	}
	l := &Latencies{}
	for i := range l.stages {
		l.stages[i] = newLatencyBuffer(windowSize)
	}
	return l
}

// Record adds a sample for stage s.
func (l *Latencies) Record(s Stage, d time.Duration) {
	if s < 0 || s >= numStages {
		return
	}
	l.mu.Lock()
	l.stages[s].add(d)
	l.mu.Unlock()
}

// Snapshot returns the current percentiles.
func (l *Latencies) Snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LatencySnapshot{
		VAD:           l.stages[StageVAD].percentiles(),
		Transcription: l.stages[StageTranscription].percentiles(),
		Suggestion:    l.stages[StageSuggestion].percentiles(),
		Segment:       l.stages[StageSegment].percentiles(),
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos == len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = len(lb.data)
	}
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank value at p (0.0-1.0) from sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
