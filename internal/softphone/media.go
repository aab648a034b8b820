package softphone

import (
	"io"
	"sync"
	"time"

	"github.com/callyard/callyard/pkg/provider/tts"
)

// frameDuration is the pacing interval for PCM written toward a call leg.
// 20 ms matches the RTP packetisation of the negotiated audio codecs.
const frameDuration = 20 * time.Millisecond

// player transmits one buffer of PCM toward a call leg at real-time pace.
// A session keeps at most one player transmitting at any instant; starting a
// new one stops the previous first.
type player struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// startPlayer begins writing pcm to w in frameDuration slices. Playback ends
// when the buffer is exhausted, the writer fails (leg gone) or Stop is called.
// With loop set the buffer repeats until stopped.
func startPlayer(w io.Writer, pcm []byte, cfg tts.StreamConfig, loop bool) *player {
	p := &player{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	frameBytes := int(float64(cfg.BytesPerSecond()) * frameDuration.Seconds())
	if frameBytes <= 0 {
		frameBytes = 320
	}
	// Frames must align to whole samples.
	sample := cfg.SampleWidth * cfg.Channels
	if sample > 0 && frameBytes%sample != 0 {
		frameBytes -= frameBytes % sample
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()

		for {
			for off := 0; off < len(pcm); {
				end := off + frameBytes
				if end > len(pcm) {
					end = len(pcm)
				}
				if _, err := w.Write(pcm[off:end]); err != nil {
					return
				}
				off = end

				select {
				case <-p.stop:
					return
				case <-ticker.C:
				}
			}
			if !loop || len(pcm) == 0 {
				return
			}
		}
	}()
	return p
}

// Stop halts transmission and waits for the playback goroutine to exit.
// Safe to call multiple times.
func (p *player) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// Done returns a channel closed when playback has finished for any reason.
func (p *player) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until playback has finished.
func (p *player) Wait() {
	<-p.done
}
