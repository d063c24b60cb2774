package vad

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/pkg/audio"
)

// Speech-like zero-crossing band. Voiced speech crosses zero far less often
// than broadband noise and far more often than hum.
const (
	zcrSpeechLow  = 0.05
	zcrSpeechHigh = 0.3
	zcrBoost      = 0.2

	// silenceOverrideMax bounds the strong silence override to short segments
	// so that long, quiet speech is not discarded.
	silenceOverrideMax = time.Second
)

// tuning holds [Thresholds] behind a mutex so they can be changed at runtime.
type tuning struct {
	mu sync.RWMutex
	th Thresholds
}

func (t *tuning) get() Thresholds {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.th
}

func (t *tuning) set(th Thresholds) {
	t.mu.Lock()
	t.th = th
	t.mu.Unlock()
}

// Analyzer is the full voice-activity check. It decodes the whole WAV buffer
// and combines energy, zero-crossing rate and duration into a [Verdict].
//
// Analyzer is safe for concurrent use.
type Analyzer struct {
	tuning tuning
}

// NewAnalyzer returns an Analyzer using th.
func NewAnalyzer(th Thresholds) *Analyzer {
	a := &Analyzer{}
	a.tuning.set(th)
	return a
}

// SetThresholds replaces the thresholds used by subsequent calls.
func (a *Analyzer) SetThresholds(th Thresholds) { a.tuning.set(th) }

// Thresholds returns the current thresholds.
func (a *Analyzer) Thresholds() Thresholds { return a.tuning.get() }

// AnalyzeFile reads the segment at path and analyses it. A read failure
// yields a fail-open verdict together with the error.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return failOpen(ReasonErrorFallback), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return failOpen(ReasonErrorFallback), fmt.Errorf("vad: read segment: %w", err)
	}
	return a.Analyze(b), nil
}

// Analyze classifies a RIFF/WAVE buffer. Buffers that cannot be parsed yield
// HasVoice=true with confidence 0.5.
func (a *Analyzer) Analyze(wav []byte) Verdict {
	info, data, err := audio.ParseWAV(wav)
	if err != nil {
		if errors.Is(err, audio.ErrNotWAV) || errors.Is(err, audio.ErrUnsupportedEncoding) {
			return failOpen(ReasonNonWAV)
		}
		return failOpen(ReasonParseError)
	}

	mono := audio.Downmix(data, info.Format.Channels)
	samples := audio.DecodePCM16(mono)
	dur := audio.DurationFor(len(mono), audio.Format{SampleRate: info.Format.SampleRate, Channels: 1})

	th := a.tuning.get()
	v := Verdict{
		Energy:           rms(samples),
		ZeroCrossingRate: zeroCrossingRate(samples),
		SpectralCentroid: spectralCentroid(samples, info.Format.SampleRate),
		Duration:         dur,
	}
	decide(&v, th)
	return v
}

// decide applies the ordered decision policy to the measured features in v.
func decide(v *Verdict, th Thresholds) {
	v.HasVoice = v.Energy > th.EnergyThreshold
	if th.EnergyThreshold > 0 {
		v.Confidence = math.Min(v.Energy/th.EnergyThreshold, 1)
	}
	if v.HasVoice {
		v.Reason = ReasonEnergyDetected
	} else {
		v.Reason = ReasonBelowThreshold
	}

	if v.ZeroCrossingRate > zcrSpeechLow && v.ZeroCrossingRate < zcrSpeechHigh {
		v.Confidence = math.Min(v.Confidence+zcrBoost, 1)
	}

	if v.HasVoice && v.Duration < th.MinSpeechDuration {
		v.HasVoice = false
		v.Reason = ReasonTooShort
	}

	if v.Energy < th.SilenceThreshold && v.Duration < silenceOverrideMax {
		v.HasVoice = false
		v.Reason = ReasonSilenceDetected
	}
}

// rms returns the root mean square of samples, or 0 for an empty slice.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingRate returns the fraction of adjacent sample pairs whose signs
// differ.
func zeroCrossingRate(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// spectralCentroid approximates the spectral centroid from the ratio of
// first-difference magnitude to signal magnitude. It avoids an FFT and is only
// reported, never used for gating.
func spectralCentroid(samples []float32, sampleRate int) float64 {
	if len(samples) < 2 || sampleRate <= 0 {
		return 0
	}
	var diff, mag float64
	for i := 1; i < len(samples); i++ {
		diff += math.Abs(float64(samples[i] - samples[i-1]))
		mag += math.Abs(float64(samples[i]))
	}
	if mag == 0 {
		return 0
	}
	// For a sinusoid of frequency f, diff/mag ≈ 2·sin(πf/fs), so invert.
	ratio := math.Min(diff/mag/2, 1)
	return math.Asin(ratio) * float64(sampleRate) / math.Pi
}
