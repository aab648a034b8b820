package softphone

import (
	"bytes"
	"sync"
	"testing"
)

func TestCacheKeyIsSHA256(t *testing.T) {
	t.Parallel()

	c, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	// SHA-256 of "hello" is well known.
	const want = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := c.Key("hello"); got != want {
		t.Errorf("Key(hello) = %s, want %s", got, want)
	}
	// Same text maps to the same file path.
	if c.Path("hello") != c.Path("hello") {
		t.Error("Path is not deterministic")
	}
	if c.Path("hello") == c.Path("goodbye") {
		t.Error("distinct texts map to the same path")
	}
}

func TestCacheStoreLookup(t *testing.T) {
	t.Parallel()

	c, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	cfg := testStreamConfig()

	if _, ok := c.Lookup("greeting"); ok {
		t.Fatal("Lookup reported a hit on an empty cache")
	}

	pcm := sine(400)
	if err := c.Store("greeting", pcm, cfg); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	path, ok := c.Lookup("greeting")
	if !ok {
		t.Fatal("Lookup missed after Store")
	}
	got, _, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("cached audio differs from stored audio")
	}
}

func TestCacheConcurrentStore(t *testing.T) {
	t.Parallel()

	c, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	cfg := testStreamConfig()
	pcm := sine(400)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Store("same utterance", pcm, cfg); err != nil {
				t.Errorf("Store failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, ok := c.Lookup("same utterance"); !ok {
		t.Fatal("Lookup missed after concurrent stores")
	}
}
