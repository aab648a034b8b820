// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI TTS or
// ElevenLabs) and presents a uniform streaming interface: Synthesize accepts a
// complete utterance and returns a channel of raw PCM chunks as they become
// available, enabling the softphone to start playback before synthesis has
// finished.
//
// Implementations must be safe for concurrent use; several calls may be
// synthesising speech at once.
package tts

import "context"

// StreamConfig describes the PCM format and chunking the caller expects.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 24000 for OpenAI TTS,
	// 16000 for ElevenLabs pcm_16000).
	SampleRate int

	// SampleWidth is the number of bytes per sample. Always 2 (16-bit signed
	// little-endian) for the providers in this repository.
	SampleWidth int

	// Channels is the number of audio channels. Telephony audio is mono.
	Channels int

	// ChunkSize is the preferred size in bytes of each chunk emitted on the
	// audio channel. The final chunk may be shorter.
	ChunkSize int
}

// BytesPerSecond returns the raw PCM data rate for this format.
func (c StreamConfig) BytesPerSecond() int {
	return c.SampleRate * c.SampleWidth * c.Channels
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to speech and returns a channel emitting raw
	// PCM chunks of roughly cfg.ChunkSize bytes. The channel is closed when
	// synthesis completes, fails, or ctx is cancelled; callers must drain it.
	//
	// A non-nil error is returned only when the stream cannot be started.
	// Mid-stream failures are signalled by closing the channel early.
	Synthesize(ctx context.Context, text string, cfg StreamConfig) (<-chan []byte, error)
}
