// Package softphone implements the telephony layer: a shared SIP endpoint,
// per-call session state machines, streaming TTS playback with double
// buffering and voice-activity-gated speech capture.
package softphone

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/callyard/callyard/pkg/provider/tts"
)

// AudioConfig carries the PCM stream parameters and voice activity detection
// tuning shared by all sessions of a pool.
type AudioConfig struct {
	TTSChannels    int `yaml:"tts_channels"`
	TTSSampleWidth int `yaml:"tts_sample_width"`
	TTSSampleRate  int `yaml:"tts_sample_rate"`
	TTSChunkSize   int `yaml:"tts_chunk_size"`

	// SilenceThreshold is the dBFS level below which a sample window counts
	// as silence.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceSampleInterval is the length in seconds of each recording window
	// while waiting for the caller to start speaking.
	SilenceSampleInterval float64 `yaml:"silence_sample_interval"`

	// SpeakingSampleInterval is the length in seconds of each recording
	// window while the caller is speaking.
	SpeakingSampleInterval float64 `yaml:"speaking_sample_interval"`

	// UnavailableMediaTimeout bounds how long recording waits for call media
	// to come back (e.g. while the call is on hold). Zero means the default
	// of 60 seconds.
	UnavailableMediaTimeout time.Duration `yaml:"unavailable_media_timeout"`
}

// DefaultAudioConfig returns the stream parameters matching the OpenAI PCM
// speech output.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		TTSChannels:             1,
		TTSSampleWidth:          2,
		TTSSampleRate:           24000,
		TTSChunkSize:            65536,
		SilenceThreshold:        -40,
		SilenceSampleInterval:   0.5,
		SpeakingSampleInterval:  1.5,
		UnavailableMediaTimeout: 60 * time.Second,
	}
}

// Validate checks the stream parameters for obvious misconfiguration.
func (c AudioConfig) Validate() error {
	if c.TTSChannels <= 0 || c.TTSSampleWidth <= 0 || c.TTSSampleRate <= 0 {
		return fmt.Errorf("softphone: tts_channels, tts_sample_width and tts_sample_rate must be positive")
	}
	if c.TTSChunkSize < 512 {
		return fmt.Errorf("softphone: tts_chunk_size must be at least 512 bytes")
	}
	if c.SilenceSampleInterval <= 0 || c.SpeakingSampleInterval <= 0 {
		return fmt.Errorf("softphone: sample intervals must be positive")
	}
	return nil
}

// StreamConfig maps the audio config onto the TTS provider stream parameters.
func (c AudioConfig) StreamConfig() tts.StreamConfig {
	return tts.StreamConfig{
		SampleRate:  c.TTSSampleRate,
		SampleWidth: c.TTSSampleWidth,
		Channels:    c.TTSChannels,
		ChunkSize:   c.TTSChunkSize,
	}
}

func (c AudioConfig) mediaTimeout() time.Duration {
	if c.UnavailableMediaTimeout > 0 {
		return c.UnavailableMediaTimeout
	}
	return 60 * time.Second
}

// Credentials is the SIP account description loaded from the credentials
// JSON file.
type Credentials struct {
	IDURI        string `json:"idUri"`
	RegistrarURI string `json:"registrarUri"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// LoadCredentials reads and validates a credentials JSON file.
func LoadCredentials(path string) (*Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("softphone: read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("softphone: parse credentials: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return &creds, nil
}

// Validate checks that all required fields are present.
func (c *Credentials) Validate() error {
	switch {
	case c.IDURI == "":
		return fmt.Errorf("softphone: credentials missing idUri")
	case c.RegistrarURI == "":
		return fmt.Errorf("softphone: credentials missing registrarUri")
	case c.Username == "":
		return fmt.Errorf("softphone: credentials missing username")
	case c.Password == "":
		return fmt.Errorf("softphone: credentials missing password")
	}
	return nil
}

// RegistrarHost extracts the host part of the registrar URI. Outbound call
// targets are formed as sip:<number>@<host>.
func (c *Credentials) RegistrarHost() string {
	host := c.RegistrarURI
	host = strings.TrimPrefix(host, "sips:")
	host = strings.TrimPrefix(host, "sip:")
	if i := strings.IndexAny(host, ":;"); i >= 0 {
		host = host[:i]
	}
	return host
}
