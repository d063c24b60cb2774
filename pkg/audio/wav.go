package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical 44-byte RIFF/WAVE PCM header.
const WAVHeaderSize = 44

// formatPCM is the WAVE_FORMAT_PCM tag; formatExtensible wraps PCM in newer
// encoders.
const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

var (
	// ErrNotWAV is returned when the buffer does not start with a RIFF/WAVE
	// signature.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

	// ErrNoDataChunk is returned when no "data" sub-chunk is found.
	ErrNoDataChunk = errors.New("audio: wav has no data chunk")

	// ErrUnsupportedEncoding is returned for WAV files that are not 16-bit PCM.
	ErrUnsupportedEncoding = errors.New("audio: wav is not 16-bit PCM")
)

// WAVInfo describes a parsed WAV container.
type WAVInfo struct {
	Format        Format
	AudioFormat   uint16
	BitsPerSample uint16

	// DataOffset is the byte offset of the first PCM sample.
	DataOffset int

	// DataSize is the size declared by the data chunk header. It may exceed
	// the bytes actually present when the buffer is a prefix of the file.
	DataSize int
}

// IsWAV reports whether b starts with a RIFF/WAVE signature.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// ParseWAV walks the RIFF chunks in b, locates the fmt and data sub-chunks and
// returns the header info together with the PCM bytes present in b.
// Truncated data chunks are accepted so a file prefix can be inspected.
func ParseWAV(b []byte) (WAVInfo, []byte, error) {
	var info WAVInfo
	if !IsWAV(b) {
		return info, nil, ErrNotWAV
	}

	var haveFmt bool
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return info, nil, fmt.Errorf("audio: wav fmt chunk truncated (%d bytes)", size)
			}
			info.AudioFormat = binary.LittleEndian.Uint16(b[body : body+2])
			info.Format.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			info.Format.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			info.BitsPerSample = binary.LittleEndian.Uint16(b[body+14 : body+16])
			haveFmt = true

		case "data":
			if !haveFmt {
				return info, nil, fmt.Errorf("audio: wav data chunk precedes fmt chunk")
			}
			if info.AudioFormat != formatPCM && info.AudioFormat != formatExtensible {
				return info, nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedEncoding, info.AudioFormat)
			}
			if info.BitsPerSample != 16 {
				return info, nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedEncoding, info.BitsPerSample)
			}
			if info.Format.Channels <= 0 || info.Format.SampleRate <= 0 {
				return info, nil, fmt.Errorf("audio: wav declares %s", info.Format)
			}
			info.DataOffset = body
			info.DataSize = size
			end := body + size
			if end > len(b) || size == 0 {
				end = len(b)
			}
			return info, b[body:end], nil
		}

		// Chunks are word aligned.
		next := body + size + size%2
		if next <= pos {
			break
		}
		pos = next
	}
	return info, nil, ErrNoDataChunk
}

// EncodeWAV wraps raw 16-bit little-endian PCM in a canonical 44-byte
// RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * 2
	blockAlign := f.Channels * 2
	dataSize := len(pcm)

	buf := make([]byte, WAVHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}
