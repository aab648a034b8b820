package softphone

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// collectWriter buffers writes and optionally fails after a number of calls.
type collectWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	failAfter int
	calls     int
}

func (w *collectWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failAfter > 0 && w.calls > w.failAfter {
		return 0, errors.New("leg gone")
	}
	return w.buf.Write(p)
}

func (w *collectWriter) bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

func TestPlayerTransmitsAllAudio(t *testing.T) {
	t.Parallel()

	w := &collectWriter{}
	pcm := sine(800) // 100 ms at 8 kHz
	pl := startPlayer(w, pcm, testStreamConfig(), false)

	select {
	case <-pl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("player did not finish in time")
	}
	if got := w.bytes(); !bytes.Equal(got, pcm) {
		t.Errorf("transmitted %d bytes, want %d identical bytes", len(got), len(pcm))
	}
}

func TestPlayerStopHaltsTransmission(t *testing.T) {
	t.Parallel()

	w := &collectWriter{}
	pcm := sine(80000) // 10 s of audio
	pl := startPlayer(w, pcm, testStreamConfig(), false)

	time.Sleep(100 * time.Millisecond)
	pl.Stop()

	if got := len(w.bytes()); got >= len(pcm) {
		t.Errorf("player transmitted everything (%d bytes) despite Stop", got)
	}
	// Stop must be idempotent.
	pl.Stop()
}

func TestPlayerStopsOnWriteError(t *testing.T) {
	t.Parallel()

	w := &collectWriter{failAfter: 2}
	pl := startPlayer(w, sine(80000), testStreamConfig(), false)

	select {
	case <-pl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("player did not stop after write error")
	}
}

func TestPlayerLoops(t *testing.T) {
	t.Parallel()

	w := &collectWriter{}
	pcm := sine(160) // 20 ms, one frame
	pl := startPlayer(w, pcm, testStreamConfig(), true)

	time.Sleep(150 * time.Millisecond)
	pl.Stop()

	if got := len(w.bytes()); got <= len(pcm) {
		t.Errorf("looping player transmitted %d bytes, want more than %d", got, len(pcm))
	}
}
