package vad

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// QuickChecker is the cheap first stage. [*EnergyGate] implements it.
type QuickChecker interface {
	Check(ctx context.Context, path string) QuickResult
}

// FullAnalyzer is the expensive second stage. [*Analyzer] implements it.
type FullAnalyzer interface {
	AnalyzeFile(ctx context.Context, path string) (Verdict, error)
}

// Compile-time interface assertions.
var (
	_ QuickChecker = (*EnergyGate)(nil)
	_ FullAnalyzer = (*Analyzer)(nil)
)

// Stage identifies which part of the detector produced a verdict.
type Stage string

const (
	StageDisabled Stage = "disabled"
	StageQuick    Stage = "quick"
	StageFull     Stage = "full"
)

// Settings are the runtime toggles and thresholds of a [Detector].
type Settings struct {
	Enabled    bool
	QuickCheck bool
	Thresholds Thresholds
}

// Stats are cumulative detector counters.
type Stats struct {
	Checked      int64 `json:"checked"`
	QuickDecided int64 `json:"quick_decided"`
	FullAnalyses int64 `json:"full_analyses"`
	Rejected     int64 `json:"rejected"`
	FailOpen     int64 `json:"fail_open"`
}

// Detector runs the quick check and, when it is inconclusive, the full
// analysis. The full analysis is never invoked for a segment the quick check
// decided.
//
// Detector is safe for concurrent use.
type Detector struct {
	quick QuickChecker
	full  FullAnalyzer

	// Built-in stages; nil when replaced with WithStages.
	gate     *EnergyGate
	analyzer *Analyzer

	mu       sync.RWMutex
	settings Settings

	checked      atomic.Int64
	quickDecided atomic.Int64
	fullAnalyses atomic.Int64
	rejected     atomic.Int64
	failOpen     atomic.Int64
}

// DetectorOption configures a [Detector].
type DetectorOption func(*Detector)

// WithStages replaces the quick and full stages. Intended for tests; threshold
// updates from Configure are not forwarded to custom stages.
func WithStages(q QuickChecker, f FullAnalyzer) DetectorOption {
	return func(d *Detector) {
		d.quick = q
		d.full = f
		d.gate = nil
		d.analyzer = nil
	}
}

// NewDetector builds a Detector with an [EnergyGate] and [Analyzer] sharing
// the thresholds in s.
func NewDetector(s Settings, opts ...DetectorOption) *Detector {
	g := NewEnergyGate(s.Thresholds)
	a := NewAnalyzer(s.Thresholds)
	d := &Detector{
		quick:    g,
		full:     a,
		gate:     g,
		analyzer: a,
		settings: s,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Configure applies new settings. Safe to call while Detect is running.
func (d *Detector) Configure(s Settings) {
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()
	if d.gate != nil {
		d.gate.SetThresholds(s.Thresholds)
	}
	if d.analyzer != nil {
		d.analyzer.SetThresholds(s.Thresholds)
	}
}

// Settings returns the current settings.
func (d *Detector) Settings() Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.settings
}

// Detect classifies the segment at path. When detection is disabled every
// segment is reported as voiced.
func (d *Detector) Detect(ctx context.Context, path string) (Verdict, Stage) {
	s := d.Settings()
	if !s.Enabled {
		return Verdict{HasVoice: true, Confidence: 1, Reason: ReasonDisabled}, StageDisabled
	}
	d.checked.Add(1)

	if s.QuickCheck {
		qr := d.quick.Check(ctx, path)
		if !qr.NeedsFullVAD {
			d.quickDecided.Add(1)
			d.count(qr.Verdict)
			return qr.Verdict, StageQuick
		}
	}

	d.fullAnalyses.Add(1)
	v, err := d.full.AnalyzeFile(ctx, path)
	if err != nil {
		slog.Warn("vad: full analysis failed, assuming voice", "path", path, "err", err)
	}
	d.count(v)
	return v, StageFull
}

func (d *Detector) count(v Verdict) {
	if !v.HasVoice {
		d.rejected.Add(1)
	}
	switch v.Reason {
	case ReasonParseError, ReasonNonWAV, ReasonErrorFallback:
		d.failOpen.Add(1)
	}
}

// Stats returns a snapshot of the detector counters.
func (d *Detector) Stats() Stats {
	return Stats{
		Checked:      d.checked.Load(),
		QuickDecided: d.quickDecided.Load(),
		FullAnalyses: d.fullAnalyses.Load(),
		Rejected:     d.rejected.Load(),
		FailOpen:     d.failOpen.Load(),
	}
}
