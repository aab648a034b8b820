// Package fibonacci is the demo plugin backing the sample conversation: it
// reads out a Fibonacci sequence of caller-chosen length and plays a short
// music clip over the call.
package fibonacci

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/callyard/callyard/internal/conversation"
)

// Module is the plugin name conversation configs refer to.
const Module = "fibonacci"

// musicPlayDuration is how long the music clip plays before it is stopped.
const musicPlayDuration = 5 * time.Second

// Register binds the plugin functions into r. musicPath is the WAV clip
// played by play_music.
func Register(r *conversation.Registry, musicPath string) {
	r.Register(Module, "read_fibonacci", ReadFibonacci)
	r.Register(Module, "play_music", func(ctx context.Context, info map[string]*string, session conversation.Session) (string, error) {
		return playMusic(ctx, session, musicPath)
	})
}

// sequence returns the first n Fibonacci numbers, starting 0, 1.
func sequence(n int) []int {
	fib := []int{0, 1}
	for i := 2; i < n; i++ {
		fib = append(fib, fib[len(fib)-1]+fib[len(fib)-2])
	}
	if n < len(fib) {
		fib = fib[:n]
	}
	return fib
}

// ReadFibonacci speaks the Fibonacci sequence whose length was extracted into
// the "num_fibonacci" information field.
func ReadFibonacci(_ context.Context, info map[string]*string, _ conversation.Session) (string, error) {
	raw, ok := info["num_fibonacci"]
	if !ok || raw == nil {
		return "", fmt.Errorf("fibonacci: num_fibonacci was not extracted")
	}
	n, err := strconv.Atoi(strings.TrimSpace(*raw))
	if err != nil {
		return "", fmt.Errorf("fibonacci: num_fibonacci %q is not a number: %w", *raw, err)
	}
	if n <= 0 {
		return "", fmt.Errorf("fibonacci: num_fibonacci must be positive, got %d", n)
	}

	parts := make([]string, 0, n)
	for _, v := range sequence(n) {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, " "), nil
}

// playMusic plays the clip toward the caller for a few seconds, then stops.
func playMusic(ctx context.Context, session conversation.Session, musicPath string) (string, error) {
	if err := session.PlayAudio(ctx, musicPath, true); err != nil {
		return "", fmt.Errorf("fibonacci: play music: %w", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(musicPlayDuration):
	}
	session.StopAudio()
	return "", nil
}
