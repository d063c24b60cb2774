// Package vad classifies audio segments as speech or silence before they are
// sent for transcription.
//
// Two stages are provided. [EnergyGate] reads only a short prefix of a
// segment and settles the obvious cases (clear speech, clear silence) at
// near-zero cost. [Analyzer] decodes the whole segment and applies an
// energy / zero-crossing / duration policy. [Detector] combines both and is
// what the pipeline calls.
//
// Every failure path errs toward "has voice": a dropped utterance cannot be
// recovered, whereas an extra transcription only costs money.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// Reason explains how a [Verdict] was reached.
type Reason string

const (
	ReasonQuickHighEnergy Reason = "quick_check_high_energy"
	ReasonQuickLowEnergy  Reason = "quick_check_low_energy"
	ReasonEnergyDetected  Reason = "energy_detected"
	ReasonBelowThreshold  Reason = "below_energy_threshold"
	ReasonTooShort        Reason = "too_short"
	ReasonSilenceDetected Reason = "silence_detected"
	ReasonParseError      Reason = "parse_error"
	ReasonNonWAV          Reason = "non_wav_format"
	ReasonErrorFallback   Reason = "error_fallback"
	ReasonDisabled        Reason = "vad_disabled"
)

// Verdict is the outcome of voice-activity detection for one segment.
type Verdict struct {
	HasVoice bool

	// Confidence is the likelihood of speech in [0, 1].
	Confidence float64

	// Energy is the RMS of the normalised samples.
	Energy float64

	// ZeroCrossingRate is the fraction of adjacent samples that change sign.
	ZeroCrossingRate float64

	// SpectralCentroid is a rough brightness estimate in Hz. Advisory only.
	SpectralCentroid float64

	// Duration is the playback length of the analysed PCM.
	Duration time.Duration

	Reason Reason
}

// QuickResult is the outcome of an [EnergyGate] check. When NeedsFullVAD is
// false, Verdict is definitive.
type QuickResult struct {
	Verdict      Verdict
	NeedsFullVAD bool

	// Energy is the prefix RMS, or -1 when it could not be computed.
	Energy float64
}

// failOpen is the verdict returned whenever the audio cannot be inspected.
func failOpen(reason Reason) Verdict {
	return Verdict{HasVoice: true, Confidence: 0.5, Reason: reason}
}

// Thresholds are the tunable parameters of both detection stages.
type Thresholds struct {
	// EnergyThreshold is the RMS above which audio counts as speech. The
	// quick check treats anything above twice this value as certain speech.
	EnergyThreshold float64

	// SilenceThreshold is the RMS below which audio counts as silence.
	SilenceThreshold float64

	// MinSpeechDuration rejects voiced segments shorter than this.
	MinSpeechDuration time.Duration
}

// DefaultThresholds returns conservative defaults that favour false positives.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EnergyThreshold:   0.003,
		SilenceThreshold:  0.001,
		MinSpeechDuration: 200 * time.Millisecond,
	}
}

// Validate reports threshold combinations that can never classify correctly.
func (t Thresholds) Validate() error {
	var errs []error
	if t.EnergyThreshold <= 0 || t.EnergyThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: energy threshold %v must be in (0, 1]", t.EnergyThreshold))
	}
	if t.SilenceThreshold < 0 || t.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: silence threshold %v must be in [0, 1]", t.SilenceThreshold))
	}
	if t.SilenceThreshold > t.EnergyThreshold {
		errs = append(errs, fmt.Errorf("vad: silence threshold %v exceeds energy threshold %v", t.SilenceThreshold, t.EnergyThreshold))
	}
	if t.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("vad: min speech duration %v is negative", t.MinSpeechDuration))
	}
	return errors.Join(errs...)
}
