package softphone

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/callyard/callyard/pkg/provider/tts"
)

// Cache is the persistent TTS audio cache. Entries are WAVE files keyed by
// the SHA-256 of the utterance text, so identical scripted lines across calls
// reuse one synthesis.
type Cache struct {
	dir string

	// fill deduplicates concurrent synthesis of the same utterance across
	// sessions: the first caller synthesises, the rest reuse its file.
	fill singleflight.Group
}

// NewCache creates the cache directory if needed and returns a Cache over it.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("softphone: create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key returns the cache key for text: the hex SHA-256 of its UTF-8 bytes.
func (c *Cache) Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Path returns the cache file path for text regardless of whether it exists.
func (c *Cache) Path(text string) string {
	return filepath.Join(c.dir, c.Key(text)+".wav")
}

// Lookup returns the cached file path for text and whether it exists.
func (c *Cache) Lookup(text string) (string, bool) {
	path := c.Path(text)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return path, false
	}
	return path, true
}

// Store writes pcm as the cache entry for text. Concurrent stores of the same
// text collapse into a single write.
func (c *Cache) Store(text string, pcm []byte, cfg tts.StreamConfig) error {
	_, err, _ := c.fill.Do(c.Key(text), func() (any, error) {
		return nil, WriteWAV(c.Path(text), pcm, cfg)
	})
	return err
}
