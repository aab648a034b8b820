// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The softphone records caller speech into a WAV file and submits the whole
// utterance as a single batch transcription request, so the interface is a
// plain file-in/text-out call rather than a streaming session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"io"
)

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe sends a complete WAV recording and returns the transcript.
	// filename is a hint for multipart uploads (e.g., "utterance.wav").
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}
