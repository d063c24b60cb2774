// Package audio holds the audio segment type that flows through the pipeline
// together with the WAV/PCM helpers used to inspect it.
package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Segment is one short recording produced by the capture side. It is
// immutable once delivered; the pipeline owns the file at Path until the
// segment completes or is abandoned.
type Segment struct {
	// ID uniquely identifies the segment within a session.
	ID string

	// Path is the filesystem location of the encoded segment (normally WAV).
	Path string

	// Size is the file size in bytes as reported by the producer.
	Size int64

	// Duration is the nominal capture duration. Zero when unknown.
	Duration time.Duration

	// Format is the nominal PCM format. Zero values mean "read it from the
	// file header".
	Format Format

	// ReceivedAt records when the pipeline accepted the segment.
	ReceivedAt time.Time
}

// DurationFor returns the playback duration of dataBytes of 16-bit PCM in
// the given format. Returns 0 for an invalid format.
func DurationFor(dataBytes int, f Format) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	bytesPerSec := f.SampleRate * f.Channels * 2
	return time.Duration(int64(dataBytes) * int64(time.Second) / int64(bytesPerSec))
}
