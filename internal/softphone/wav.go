package softphone

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/callyard/callyard/pkg/provider/tts"
)

// WAV scratch file helpers. The SIP media layer consumes and produces raw PCM;
// the on-disk interchange format for buffers, recordings and the TTS cache is
// plain 16-bit PCM RIFF/WAVE.

const wavHeaderSize = 44

// writeWAVHeader fills a 44-byte canonical PCM WAVE header for dataLen bytes
// of audio.
func writeWAVHeader(buf []byte, dataLen int, cfg tts.StreamConfig) {
	byteRate := cfg.SampleRate * cfg.Channels * cfg.SampleWidth
	blockAlign := cfg.Channels * cfg.SampleWidth

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(cfg.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(cfg.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(cfg.SampleWidth*8))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
}

// WriteWAV writes pcm as a complete WAVE file at path, replacing any previous
// content.
func WriteWAV(path string, pcm []byte, cfg tts.StreamConfig) error {
	out := make([]byte, wavHeaderSize+len(pcm))
	writeWAVHeader(out, len(pcm), cfg)
	copy(out[wavHeaderSize:], pcm)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("softphone: write wav %s: %w", path, err)
	}
	return nil
}

// ReadWAV reads a PCM WAVE file and returns its audio data and stream
// parameters. Only uncompressed PCM files are supported.
func ReadWAV(path string) ([]byte, tts.StreamConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, tts.StreamConfig{}, fmt.Errorf("softphone: read wav %s: %w", path, err)
	}
	return DecodeWAV(raw)
}

// DecodeWAV parses a RIFF/WAVE byte stream, walking chunks until the data
// chunk is found.
func DecodeWAV(raw []byte) ([]byte, tts.StreamConfig, error) {
	if len(raw) < wavHeaderSize || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, tts.StreamConfig{}, fmt.Errorf("softphone: not a RIFF/WAVE stream")
	}

	var cfg tts.StreamConfig
	var data []byte
	haveFmt := false

	pos := 12
	for pos+8 <= len(raw) {
		chunkID := string(raw[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := raw[pos+8:]
		if chunkLen > len(body) {
			chunkLen = len(body)
		}
		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, tts.StreamConfig{}, fmt.Errorf("softphone: truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return nil, tts.StreamConfig{}, fmt.Errorf("softphone: unsupported wav format %d", format)
			}
			cfg.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			cfg.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			cfg.SampleWidth = int(binary.LittleEndian.Uint16(body[14:16])) / 8
			haveFmt = true
		case "data":
			data = body[:chunkLen]
		}
		// Chunks are word aligned.
		pos += 8 + chunkLen
		if chunkLen%2 == 1 {
			pos++
		}
	}

	if !haveFmt || data == nil {
		return nil, tts.StreamConfig{}, fmt.Errorf("softphone: missing fmt or data chunk")
	}
	return data, cfg, nil
}

// DBFS computes the RMS level of 16-bit little-endian PCM relative to full
// scale, in decibels. Silence returns negative infinity.
func DBFS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768)
}

// PCMDuration returns the playback duration of pcm under cfg.
func PCMDuration(pcm []byte, cfg tts.StreamConfig) time.Duration {
	bps := cfg.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(len(pcm)) / float64(bps) * float64(time.Second))
}
