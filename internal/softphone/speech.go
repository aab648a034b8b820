package softphone

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Say synthesises text and streams it toward the active leg.
//
// Cached utterances play from their cache file in one piece. Uncached text is
// streamed with double buffering: each PCM chunk is written to one of two
// alternating buffer files, played while the next chunk arrives, and paced by
// the chunk's real-time duration. With cacheAudio set the combined audio is
// written to the cache afterwards.
//
// Media errors (typically the peer hanging up mid-utterance) end playback
// quietly; Say only returns an error for synthesis startup failures.
func (s *Session) Say(ctx context.Context, text string, cacheAudio bool) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s.sayGate.Lock()
	defer s.sayGate.Unlock()

	media, reason := s.activeMedia()
	if media == nil {
		s.log.Info("cannot say", "reason", reason)
		return nil
	}
	w, err := media.AudioWriter()
	if err != nil {
		s.log.Info("no available audio media", "error", err)
		return nil
	}

	if path, ok := s.cache.Lookup(text); ok {
		pcm, cfg, err := ReadWAV(path)
		if err == nil {
			pl := startPlayer(w, pcm, cfg, false)
			s.swapPlayer(pl)
			select {
			case <-pl.Done():
			case <-ctx.Done():
			}
			s.stopPlayer()
			return nil
		}
		s.log.Warn("unreadable cache entry, resynthesising", "path", path, "error", err)
	}

	cfg := s.audio.StreamConfig()
	buffers := [2]string{
		s.artifactPath("outgoing_buffer_0.wav"),
		s.artifactPath("outgoing_buffer_1.wav"),
	}

	// Initialise both buffer files with a short stretch of silence.
	silence := make([]byte, 2048)
	for _, path := range buffers {
		if err := WriteWAV(path, silence, cfg); err != nil {
			return err
		}
	}

	stream, err := s.ttsP.Synthesize(ctx, text, cfg)
	if err != nil {
		return fmt.Errorf("softphone: start synthesis: %w", err)
	}

	chunkDelay := time.Duration(float64(cfg.ChunkSize) / float64(cfg.BytesPerSecond()) * float64(time.Second))

	var combined []byte
	idx := 0
	for chunk := range stream {
		if len(chunk) < 512 {
			continue
		}
		if !s.HasPickedUpCall() {
			break
		}

		// Fill one buffer, play it, then the next chunk overwrites the other.
		if err := WriteWAV(buffers[idx], chunk, cfg); err != nil {
			s.log.Warn("buffer write failed", "error", err)
			break
		}
		s.swapPlayer(startPlayer(w, chunk, cfg, false))
		combined = append(combined, chunk...)
		idx = 1 - idx

		select {
		case <-ctx.Done():
			s.stopPlayer()
			return nil
		case <-time.After(chunkDelay):
		}
	}

	// Let the last buffer drain before releasing the transmitter.
	s.mu.Lock()
	last := s.player
	s.mu.Unlock()
	if last != nil {
		select {
		case <-last.Done():
		case <-ctx.Done():
		}
	}
	s.stopPlayer()

	if cacheAudio && len(combined) > 0 {
		if err := s.cache.Store(text, combined, cfg); err != nil {
			s.log.Warn("failed to cache utterance", "error", err)
		}
	}
	return nil
}

// PlayAudio plays a WAV file toward the active leg, replacing any prior
// playback. With loop set the file repeats until StopAudio or the next
// utterance.
func (s *Session) PlayAudio(ctx context.Context, path string, loop bool) error {
	media, reason := s.activeMedia()
	if media == nil {
		s.log.Info("cannot play audio", "reason", reason)
		return nil
	}
	w, err := media.AudioWriter()
	if err != nil {
		s.log.Info("no available audio media", "error", err)
		return nil
	}
	pcm, cfg, err := ReadWAV(path)
	if err != nil {
		return err
	}
	s.swapPlayer(startPlayer(w, pcm, cfg, loop))
	return nil
}

// StopAudio stops any playback started by PlayAudio or Say.
func (s *Session) StopAudio() {
	s.stopPlayer()
}
