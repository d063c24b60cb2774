// Package stt defines the Provider interface for batch Speech-to-Text backends.
//
// A provider accepts one complete audio segment (normally a RIFF/WAVE file)
// and returns its transcript. Segments are short, so no streaming session is
// involved: each call is a single request/response exchange.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Request is one segment to transcribe.
type Request struct {
	// Audio is the encoded segment, normally a complete WAV file.
	Audio []byte

	// Filename is forwarded to backends that infer the container from the
	// extension. Defaults to "segment.wav".
	Filename string

	// Language is an optional BCP-47 hint such as "en".
	Language string

	// Prompt is optional preceding text that helps the backend with
	// vocabulary and continuity.
	Prompt string
}

// Result is the transcript of one segment.
type Result struct {
	// Text is the transcribed speech. Empty when the backend heard nothing.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the audio length as reported by the backend. Zero when
	// unknown.
	Duration time.Duration
}

// Provider is the interface every STT backend implements.
type Provider interface {
	// Transcribe sends req to the backend and returns the transcript. Errors
	// carrying an HTTP status are returned as *StatusError so callers can
	// decide whether to retry.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// StatusError reports a non-success response from an STT backend.
type StatusError struct {
	// Provider names the backend, e.g. "openai" or "whisper".
	Provider string

	// StatusCode is the HTTP status returned by the backend.
	StatusCode int

	// Message is the backend's error text, if any.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server returned HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports whether the status is worth retrying: 429 and 5xx.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// StatusCode extracts the HTTP status from err, or 0 if err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// DefaultFilename is used when Request.Filename is empty.
const DefaultFilename = "segment.wav"

// FilenameOrDefault returns req.Filename or [DefaultFilename].
func (r Request) FilenameOrDefault() string {
	if r.Filename == "" {
		return DefaultFilename
	}
	return r.Filename
}
