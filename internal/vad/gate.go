package vad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/faiq157/custom-ai-translator-suggestion/pkg/audio"
)

// DefaultPrefixBytes is how much of a segment the quick check reads: the WAV
// header plus roughly half a second of 16 kHz mono PCM.
const DefaultPrefixBytes = 16 * 1024

// highEnergyFactor multiplies EnergyThreshold to obtain the quick-check
// "certainly speech" level.
const highEnergyFactor = 2

// EnergyGate is the quick voice-activity check. It reads a fixed-size prefix
// of a segment so its cost is independent of segment length.
//
// EnergyGate is safe for concurrent use.
type EnergyGate struct {
	tuning      tuning
	prefixBytes int
}

// GateOption configures an [EnergyGate].
type GateOption func(*EnergyGate)

// WithPrefixBytes overrides how many bytes of each segment are inspected.
func WithPrefixBytes(n int) GateOption {
	return func(g *EnergyGate) {
		if n > audio.WAVHeaderSize {
			g.prefixBytes = n
		}
	}
}

// NewEnergyGate returns an EnergyGate using th.
func NewEnergyGate(th Thresholds, opts ...GateOption) *EnergyGate {
	g := &EnergyGate{prefixBytes: DefaultPrefixBytes}
	g.tuning.set(th)
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetThresholds replaces the thresholds used by subsequent checks.
func (g *EnergyGate) SetThresholds(th Thresholds) { g.tuning.set(th) }

// Check reads the prefix of the segment at path and classifies it. Read
// failures return NeedsFullVAD so the caller falls through to the full check.
func (g *EnergyGate) Check(ctx context.Context, path string) QuickResult {
	if ctx.Err() != nil {
		return QuickResult{NeedsFullVAD: true, Energy: -1}
	}
	prefix, err := readPrefix(path, g.prefixBytes)
	if err != nil {
		return QuickResult{NeedsFullVAD: true, Energy: -1}
	}
	return g.CheckPrefix(prefix)
}

// CheckPrefix classifies an in-memory prefix of a segment.
func (g *EnergyGate) CheckPrefix(prefix []byte) QuickResult {
	info, data, err := audio.ParseWAV(prefix)
	switch {
	case errors.Is(err, audio.ErrNotWAV), errors.Is(err, audio.ErrUnsupportedEncoding):
		// Nothing the energy measures can decode; skip the full read.
		return QuickResult{Verdict: failOpen(ReasonNonWAV), Energy: -1}
	case err != nil:
		return QuickResult{NeedsFullVAD: true, Energy: -1}
	case len(data) < 2:
		// Header only; nothing to measure.
		return QuickResult{NeedsFullVAD: true, Energy: -1}
	}

	energy := rms(audio.DecodePCM16(audio.Downmix(data, info.Format.Channels)))
	th := g.tuning.get()

	switch {
	case energy > highEnergyFactor*th.EnergyThreshold:
		return QuickResult{
			Verdict: Verdict{HasVoice: true, Confidence: 0.8, Energy: energy, Reason: ReasonQuickHighEnergy},
			Energy:  energy,
		}
	case energy < th.SilenceThreshold:
		return QuickResult{
			Verdict: Verdict{HasVoice: false, Confidence: 0.2, Energy: energy, Reason: ReasonQuickLowEnergy},
			Energy:  energy,
		}
	default:
		return QuickResult{NeedsFullVAD: true, Energy: energy}
	}
}

// readPrefix reads at most n bytes from the start of the file at path.
func readPrefix(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vad: open segment: %w", err)
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("vad: read segment prefix: %w", err)
	}
	return buf[:read], nil
}
