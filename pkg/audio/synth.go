package audio

import (
	"math"
	"time"
)

// Tone returns 16-bit PCM for a sine wave of the given frequency and peak
// amplitude (0..1), interleaved across f.Channels.
func Tone(f Format, d time.Duration, freqHz, amplitude float64) []byte {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	out := make([]byte, frames*f.Channels*2)
	for i := range frames {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(f.SampleRate))
		s := int16(max(-32768, min(32767, v*32767)))
		for c := range f.Channels {
			off := (i*f.Channels + c) * 2
			out[off] = byte(s)
			out[off+1] = byte(s >> 8)
		}
	}
	return out
}

// Silence returns d worth of all-zero 16-bit PCM in format f.
func Silence(f Format, d time.Duration) []byte {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return make([]byte, frames*f.Channels*2)
}
