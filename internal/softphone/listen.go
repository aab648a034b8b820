package softphone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/callyard/callyard/pkg/provider/tts"
)

// Interrupted is returned by Listen when recording fails mid-utterance, for
// example because the call media never came back within the media timeout.
const Interrupted = "##INTERRUPTED##"

// errCallLost marks a recording window that ended because the call leg went
// away or was forwarded, as opposed to a recording failure.
var errCallLost = errors.New("softphone: call lost while recording")

// Telephony codecs decode to 16-bit mono PCM at 8 kHz on the receive side.
var listenStreamConfig = tts.StreamConfig{
	SampleRate:  8000,
	SampleWidth: 2,
	Channels:    1,
	ChunkSize:   320,
}

// Listen records the caller's next utterance and returns its transcript.
//
// Two phases: short windows are recorded and discarded while below the
// silence threshold, then windows are accumulated while the level stays above
// an adaptive threshold that tracks the caller's volume. The combined audio
// is exported and sent to the speech-to-text provider.
//
// Returns an empty transcript when the call disappeared or was forwarded
// while listening, and Interrupted when recording itself failed.
func (s *Session) Listen(ctx context.Context) (string, error) {
	cfg := s.audio

	// Silence-skip phase.
	segment, err := s.recordWindow(ctx, cfg.SilenceSampleInterval)
	if err != nil {
		return listenFailure(err)
	}
	for DBFS(segment) < cfg.SilenceThreshold {
		segment, err = s.recordWindow(ctx, cfg.SilenceSampleInterval)
		if err != nil {
			return listenFailure(err)
		}
	}

	// Speech-collect phase: accumulate while the level stays above a
	// threshold that adapts to the caller's volume.
	combined := append([]byte(nil), segment...)
	active := cfg.SilenceThreshold
	last := segment
	for DBFS(last) > active {
		active = DBFS(last) - 5

		last, err = s.recordWindow(ctx, cfg.SpeakingSampleInterval)
		if err != nil {
			return listenFailure(err)
		}
		combined = append(combined, last...)
	}

	combinedPath := s.artifactPath("incoming_combined.wav")
	if err := WriteWAV(combinedPath, combined, listenStreamConfig); err != nil {
		return "", err
	}

	f, err := os.Open(combinedPath)
	if err != nil {
		return "", fmt.Errorf("softphone: open recording: %w", err)
	}
	defer f.Close()

	transcript, err := s.sttP.Transcribe(ctx, f, filepath.Base(combinedPath))
	if err != nil {
		return "", fmt.Errorf("softphone: transcribe: %w", err)
	}
	return transcript, nil
}

// listenFailure maps a recording error onto the Listen contract: a lost call
// leg yields an empty transcript, anything else the interruption sentinel.
func listenFailure(err error) (string, error) {
	if errors.Is(err, errCallLost) {
		return "", nil
	}
	return Interrupted, nil
}

// listenable reports whether the active leg is still usable for recording:
// present, connected and not in a forwarding session.
func (s *Session) listenable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.Context().Err() == nil && s.paired == nil
}

// recordWindow records interval seconds of caller audio into the incoming
// scratch file and returns the PCM. When call media is not active (e.g. the
// peer put us on hold) it retries every second up to the configured media
// timeout. Returns errCallLost when the leg itself is gone.
func (s *Session) recordWindow(ctx context.Context, interval float64) ([]byte, error) {
	timeout := s.audio.mediaTimeout()

	for waited := time.Duration(0); waited < timeout; waited += time.Second {
		if ctx.Err() != nil {
			return nil, errCallLost
		}
		if !s.listenable() {
			return nil, errCallLost
		}

		s.mu.Lock()
		media := s.active.Media()
		s.mu.Unlock()

		reader, err := media.AudioReader()
		if err != nil {
			// Media not active yet, probably holding. Wait for it.
			select {
			case <-ctx.Done():
				return nil, errCallLost
			case <-time.After(time.Second):
			}
			continue
		}

		pcm, err := recordPCM(reader, interval)
		if err != nil {
			if !s.listenable() {
				return nil, errCallLost
			}
			return nil, fmt.Errorf("softphone: record window: %w", err)
		}
		if err := WriteWAV(s.artifactPath("incoming.wav"), pcm, listenStreamConfig); err != nil {
			s.log.Warn("failed to write incoming scratch file", "error", err)
		}
		return pcm, nil
	}
	return nil, fmt.Errorf("softphone: no active media after %s", timeout)
}

// recordPCM reads interval seconds worth of PCM from r. The media reader is
// paced in real time, so a full read takes about that long.
func recordPCM(r io.Reader, interval float64) ([]byte, error) {
	target := int(float64(listenStreamConfig.BytesPerSecond()) * interval)
	sample := listenStreamConfig.SampleWidth * listenStreamConfig.Channels
	if sample > 0 && target%sample != 0 {
		target -= target % sample
	}
	buf := make([]byte, target)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
