// Package openai provides a TTS provider backed by the OpenAI speech API,
// streaming raw PCM so playback can begin before synthesis completes.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/callyard/callyard/pkg/provider/tts"
)

const (
	defaultModel = oai.SpeechModelTTS1
	defaultVoice = oai.AudioSpeechNewParamsVoiceAlloy
)

// Provider implements tts.Provider using the OpenAI audio/speech endpoint
// with the "pcm" response format (16-bit LE mono at 24 kHz).
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
	voice  oai.AudioSpeechNewParamsVoice
}

// Compile-time assertion that Provider satisfies tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "tts-1", "tts-1-hd").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = oai.SpeechModel(model) }
}

// WithVoice sets the synthesis voice (e.g., "alloy", "nova").
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = oai.AudioSpeechNewParamsVoice(voice) }
}

// New creates a new OpenAI TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	p := &Provider{
		client: oai.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
		voice:  defaultVoice,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider. The HTTP response body is consumed in
// cfg.ChunkSize pieces and forwarded on the returned channel.
func (p *Provider) Synthesize(ctx context.Context, text string, cfg tts.StreamConfig) (<-chan []byte, error) {
	if text == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Voice:          p.voice,
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: start stream: %w", err)
	}

	ch := make(chan []byte, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		for {
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				select {
				case ch <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				// io.EOF and io.ErrUnexpectedEOF mark the end of the stream;
				// anything else (connection reset) also just ends synthesis.
				return
			}
		}
	}()

	return ch, nil
}
