package vad_test

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faiq157/custom-ai-translator-suggestion/internal/vad"
	"github.com/faiq157/custom-ai-translator-suggestion/pkg/audio"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

// writeSegment writes b to a temp file and returns its path.
func writeSegment(t *testing.T, b []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.wav")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	return path
}

func toneWAV(d time.Duration, amp float64) []byte {
	return audio.EncodeWAV(audio.Tone(mono16k, d, 440, amp), mono16k)
}

func silenceWAV(d time.Duration) []byte {
	return audio.EncodeWAV(audio.Silence(mono16k, d), mono16k)
}

// ─── Analyzer ────────────────────────────────────────────────────────────────

func TestAnalyzer_ToneHasVoice(t *testing.T) {
	t.Parallel()

	a := vad.NewAnalyzer(vad.DefaultThresholds())
	v := a.Analyze(toneWAV(500*time.Millisecond, 0.2))
	if !v.HasVoice {
		t.Fatalf("HasVoice = false, want true (verdict %+v)", v)
	}
	if v.Reason != vad.ReasonEnergyDetected {
		t.Errorf("Reason = %q, want %q", v.Reason, vad.ReasonEnergyDetected)
	}
	if v.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", v.Confidence)
	}
	if v.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", v.Duration)
	}
	if v.SpectralCentroid < 400 || v.SpectralCentroid > 480 {
		t.Errorf("SpectralCentroid = %v, want ~440", v.SpectralCentroid)
	}
}

func TestAnalyzer_TwoSecondsSilence(t *testing.T) {
	t.Parallel()

	a := vad.NewAnalyzer(vad.DefaultThresholds())
	v := a.Analyze(silenceWAV(2 * time.Second))
	if v.HasVoice {
		t.Fatalf("HasVoice = true, want false (verdict %+v)", v)
	}
	// Long segments are not subject to the strong silence override.
	if v.Reason != vad.ReasonBelowThreshold {
		t.Errorf("Reason = %q, want %q", v.Reason, vad.ReasonBelowThreshold)
	}
}

func TestAnalyzer_ShortSilence(t *testing.T) {
	t.Parallel()

	a := vad.NewAnalyzer(vad.DefaultThresholds())
	v := a.Analyze(silenceWAV(50 * time.Millisecond))
	if v.HasVoice {
		t.Fatalf("HasVoice = true, want false")
	}
	if v.Reason != vad.ReasonSilenceDetected && v.Reason != vad.ReasonTooShort {
		t.Errorf("Reason = %q, want silence_detected or too_short", v.Reason)
	}
}

func TestAnalyzer_TooShort(t *testing.T) {
	t.Parallel()

	a := vad.NewAnalyzer(vad.DefaultThresholds())
	v := a.Analyze(toneWAV(100*time.Millisecond, 0.2))
	if v.HasVoice {
		t.Fatalf("HasVoice = true, want false")
	}
	if v.Reason != vad.ReasonTooShort {
		t.Errorf("Reason = %q, want %q", v.Reason, vad.ReasonTooShort)
	}
}

func TestAnalyzer_StereoDownmixed(t *testing.T) {
	t.Parallel()

	stereo := audio.Format{SampleRate: 16000, Channels: 2}
	wav := audio.EncodeWAV(audio.Tone(stereo, 400*time.Millisecond, 300, 0.2), stereo)
	v := vad.NewAnalyzer(vad.DefaultThresholds()).Analyze(wav)
	if !v.HasVoice {
		t.Errorf("HasVoice = false, want true")
	}
	if v.Duration != 400*time.Millisecond {
		t.Errorf("Duration = %v, want 400ms", v.Duration)
	}
}

func TestAnalyzer_FailOpen(t *testing.T) {
	t.Parallel()

	eightBit := silenceWAV(time.Second)
	eightBit[34] = 8

	tests := []struct {
		name string
		in   []byte
		want vad.Reason
	}{
		{name: "mp3", in: []byte("ID3\x03\x00\x00\x00\x00\x00\x00\x00\x00\x00"), want: vad.ReasonNonWAV},
		{name: "truncated", in: []byte("RIFF\x00\x00\x00\x00WAVEfmt "), want: vad.ReasonParseError},
		{name: "8-bit", in: eightBit, want: vad.ReasonParseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := vad.NewAnalyzer(vad.DefaultThresholds()).Analyze(tt.in)
			if !v.HasVoice || v.Confidence != 0.5 {
				t.Errorf("verdict = %+v, want HasVoice=true Confidence=0.5", v)
			}
			if v.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", v.Reason, tt.want)
			}
		})
	}
}

func TestAnalyzer_AnalyzeFileMissing(t *testing.T) {
	t.Parallel()

	v, err := vad.NewAnalyzer(vad.DefaultThresholds()).AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !v.HasVoice || v.Reason != vad.ReasonErrorFallback {
		t.Errorf("verdict = %+v, want fail-open error_fallback", v)
	}
}

func TestAnalyzer_SetThresholds(t *testing.T) {
	t.Parallel()

	a := vad.NewAnalyzer(vad.DefaultThresholds())
	wav := toneWAV(500*time.Millisecond, 0.05) // RMS ≈ 0.035
	if !a.Analyze(wav).HasVoice {
		t.Fatal("expected voice with default thresholds")
	}
	th := vad.DefaultThresholds()
	th.EnergyThreshold = 0.1
	a.SetThresholds(th)
	if a.Analyze(wav).HasVoice {
		t.Error("expected no voice after raising energy threshold")
	}
	if got := a.Thresholds(); got != th {
		t.Errorf("Thresholds() = %+v, want %+v", got, th)
	}
}

// ─── EnergyGate ──────────────────────────────────────────────────────────────

func TestEnergyGate_Classification(t *testing.T) {
	t.Parallel()

	th := vad.DefaultThresholds()
	tests := []struct {
		name      string
		wav       []byte
		wantFull  bool
		wantVoice bool
		wantConf  float64
		wantWhy   vad.Reason
	}{
		{name: "loud", wav: toneWAV(time.Second, 0.3), wantVoice: true, wantConf: 0.8, wantWhy: vad.ReasonQuickHighEnergy},
		{name: "silent", wav: silenceWAV(time.Second), wantVoice: false, wantConf: 0.2, wantWhy: vad.ReasonQuickLowEnergy},
		// RMS ≈ 0.0042: above the energy threshold but below twice it.
		{name: "ambiguous", wav: toneWAV(time.Second, 0.006), wantFull: true},
		{name: "non-wav", wav: []byte("OggS\x00\x02\x00\x00\x00\x00\x00\x00\x00\x00"), wantVoice: true, wantConf: 0.5, wantWhy: vad.ReasonNonWAV},
		{name: "header only", wav: silenceWAV(0), wantFull: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := vad.NewEnergyGate(th)
			qr := g.Check(context.Background(), writeSegment(t, tt.wav))
			if qr.NeedsFullVAD != tt.wantFull {
				t.Fatalf("NeedsFullVAD = %v, want %v (%+v)", qr.NeedsFullVAD, tt.wantFull, qr)
			}
			if tt.wantFull {
				return
			}
			if qr.Verdict.HasVoice != tt.wantVoice || qr.Verdict.Confidence != tt.wantConf || qr.Verdict.Reason != tt.wantWhy {
				t.Errorf("verdict = %+v, want voice=%v conf=%v reason=%q", qr.Verdict, tt.wantVoice, tt.wantConf, tt.wantWhy)
			}
		})
	}
}

func TestEnergyGate_ReadsOnlyPrefix(t *testing.T) {
	t.Parallel()

	// Silent prefix followed by a loud tail: the gate must not see the tail.
	pcm := append(audio.Silence(mono16k, time.Second), audio.Tone(mono16k, 4*time.Second, 440, 0.5)...)
	g := vad.NewEnergyGate(vad.DefaultThresholds(), vad.WithPrefixBytes(4096))
	qr := g.Check(context.Background(), writeSegment(t, audio.EncodeWAV(pcm, mono16k)))
	if qr.NeedsFullVAD || qr.Verdict.Reason != vad.ReasonQuickLowEnergy {
		t.Errorf("result = %+v, want quick low-energy verdict", qr)
	}
}

func TestEnergyGate_MissingFileNeedsFull(t *testing.T) {
	t.Parallel()

	g := vad.NewEnergyGate(vad.DefaultThresholds())
	qr := g.Check(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	if !qr.NeedsFullVAD {
		t.Errorf("NeedsFullVAD = false, want true")
	}
}

// ─── Detector ────────────────────────────────────────────────────────────────

type fakeQuick struct {
	result vad.QuickResult
	calls  atomic.Int32
}

func (f *fakeQuick) Check(context.Context, string) vad.QuickResult {
	f.calls.Add(1)
	return f.result
}

type fakeFull struct {
	verdict vad.Verdict
	calls   atomic.Int32
}

func (f *fakeFull) AnalyzeFile(context.Context, string) (vad.Verdict, error) {
	f.calls.Add(1)
	return f.verdict, nil
}

func defaultSettings() vad.Settings {
	return vad.Settings{Enabled: true, QuickCheck: true, Thresholds: vad.DefaultThresholds()}
}

func TestDetector_DefinitiveQuickSkipsFull(t *testing.T) {
	t.Parallel()

	for _, voice := range []bool{true, false} {
		q := &fakeQuick{result: vad.QuickResult{Verdict: vad.Verdict{HasVoice: voice}}}
		f := &fakeFull{}
		d := vad.NewDetector(defaultSettings(), vad.WithStages(q, f))

		v, stage := d.Detect(context.Background(), "seg.wav")
		if stage != vad.StageQuick || v.HasVoice != voice {
			t.Errorf("voice=%v: got (%+v, %q)", voice, v, stage)
		}
		if f.calls.Load() != 0 {
			t.Errorf("voice=%v: full analyzer called %d times, want 0", voice, f.calls.Load())
		}
	}
}

func TestDetector_AmbiguousRunsFull(t *testing.T) {
	t.Parallel()

	q := &fakeQuick{result: vad.QuickResult{NeedsFullVAD: true}}
	f := &fakeFull{verdict: vad.Verdict{HasVoice: false, Reason: vad.ReasonTooShort}}
	d := vad.NewDetector(defaultSettings(), vad.WithStages(q, f))

	v, stage := d.Detect(context.Background(), "seg.wav")
	if stage != vad.StageFull || v.Reason != vad.ReasonTooShort {
		t.Errorf("got (%+v, %q)", v, stage)
	}
	st := d.Stats()
	if st.Checked != 1 || st.FullAnalyses != 1 || st.Rejected != 1 || st.QuickDecided != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDetector_QuickCheckDisabled(t *testing.T) {
	t.Parallel()

	q := &fakeQuick{}
	f := &fakeFull{verdict: vad.Verdict{HasVoice: true}}
	s := defaultSettings()
	s.QuickCheck = false
	d := vad.NewDetector(s, vad.WithStages(q, f))

	if _, stage := d.Detect(context.Background(), "seg.wav"); stage != vad.StageFull {
		t.Errorf("stage = %q, want full", stage)
	}
	if q.calls.Load() != 0 {
		t.Errorf("quick check called %d times, want 0", q.calls.Load())
	}
}

func TestDetector_Disabled(t *testing.T) {
	t.Parallel()

	q := &fakeQuick{}
	f := &fakeFull{}
	s := defaultSettings()
	s.Enabled = false
	d := vad.NewDetector(s, vad.WithStages(q, f))

	v, stage := d.Detect(context.Background(), "seg.wav")
	if stage != vad.StageDisabled || !v.HasVoice || v.Reason != vad.ReasonDisabled {
		t.Errorf("got (%+v, %q)", v, stage)
	}
	if q.calls.Load()+f.calls.Load() != 0 {
		t.Error("stages invoked while disabled")
	}
}

func TestDetector_ConfigureUpdatesStages(t *testing.T) {
	t.Parallel()

	d := vad.NewDetector(defaultSettings())
	path := writeSegment(t, toneWAV(time.Second, 0.3))
	if v, _ := d.Detect(context.Background(), path); !v.HasVoice {
		t.Fatal("expected voice with defaults")
	}

	s := defaultSettings()
	s.Thresholds.EnergyThreshold = 0.5
	s.Thresholds.SilenceThreshold = 0.4
	d.Configure(s)
	v, stage := d.Detect(context.Background(), path)
	if v.HasVoice {
		t.Errorf("expected no voice after Configure, got %+v via %q", v, stage)
	}
}

func TestDetector_ShortSilentSegment(t *testing.T) {
	t.Parallel()

	d := vad.NewDetector(defaultSettings())
	v, stage := d.Detect(context.Background(), writeSegment(t, silenceWAV(50*time.Millisecond)))
	if v.HasVoice || v.Reason != vad.ReasonQuickLowEnergy {
		t.Errorf("verdict = %+v, want no voice with %q", v, vad.ReasonQuickLowEnergy)
	}
	if stage != vad.StageQuick {
		t.Errorf("stage = %q, want %q", stage, vad.StageQuick)
	}
	if st := d.Stats(); st.FullAnalyses != 0 || st.Rejected != 1 {
		t.Errorf("stats = %+v, want one rejection and no full analysis", st)
	}
}

// eightBitWAV is a well-formed WAV whose samples are 8-bit.
func eightBitWAV(d time.Duration) []byte {
	b := toneWAV(d, 0.3)
	binary.LittleEndian.PutUint16(b[34:36], 8)
	return b
}

func TestUnsupportedEncodingIsNonWAV(t *testing.T) {
	t.Parallel()

	wav := eightBitWAV(time.Second)

	t.Run("gate", func(t *testing.T) {
		t.Parallel()
		qr := vad.NewEnergyGate(vad.DefaultThresholds()).CheckPrefix(wav)
		if qr.NeedsFullVAD || qr.Verdict.Reason != vad.ReasonNonWAV || !qr.Verdict.HasVoice {
			t.Errorf("result = %+v, want fail-open %q", qr, vad.ReasonNonWAV)
		}
	})
	t.Run("analyzer", func(t *testing.T) {
		t.Parallel()
		v := vad.NewAnalyzer(vad.DefaultThresholds()).Analyze(wav)
		if !v.HasVoice || v.Reason != vad.ReasonNonWAV {
			t.Errorf("verdict = %+v, want fail-open %q", v, vad.ReasonNonWAV)
		}
	})
	t.Run("detector skips full read", func(t *testing.T) {
		t.Parallel()
		f := &fakeFull{verdict: vad.Verdict{Reason: vad.ReasonSilenceDetected}}
		d := vad.NewDetector(defaultSettings(), vad.WithStages(vad.NewEnergyGate(vad.DefaultThresholds()), f))
		v, stage := d.Detect(context.Background(), writeSegment(t, wav))
		if stage != vad.StageQuick || v.Reason != vad.ReasonNonWAV {
			t.Errorf("Detect = %+v via %q, want %q from the quick stage", v, stage, vad.ReasonNonWAV)
		}
		if n := f.calls.Load(); n != 0 {
			t.Errorf("full analyzer called %d times", n)
		}
	})
}

func TestThresholds_Validate(t *testing.T) {
	t.Parallel()

	if err := vad.DefaultThresholds().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	bad := vad.Thresholds{EnergyThreshold: 0.001, SilenceThreshold: 0.01, MinSpeechDuration: -1}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for inverted thresholds")
	}
}
