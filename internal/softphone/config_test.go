package softphone

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCredentialsRegistrarHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uri, want string
	}{
		{"sip:sip.example.com", "sip.example.com"},
		{"sip:sip.example.com:5060", "sip.example.com"},
		{"sips:secure.example.com", "secure.example.com"},
		{"sip:sip.example.com;transport=udp", "sip.example.com"},
	}
	for _, tt := range tests {
		c := &Credentials{RegistrarURI: tt.uri}
		if got := c.RegistrarHost(); got != tt.want {
			t.Errorf("RegistrarHost(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.json")
	doc := `{"idUri": "sip:100@sip.example.com", "registrarUri": "sip:sip.example.com", "username": "100", "password": "secret"}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	creds, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if creds.Username != "100" || creds.RegistrarHost() != "sip.example.com" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestLoadCredentialsMissingField(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "creds.json")
	doc := `{"idUri": "sip:100@sip.example.com", "registrarUri": "sip:sip.example.com", "username": "100"}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCredentials(path); err == nil {
		t.Fatal("expected error for missing password, got nil")
	}
}

func TestAudioConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultAudioConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}

	bad := cfg
	bad.TTSChunkSize = 100
	if err := bad.Validate(); err == nil {
		t.Error("expected error for tiny chunk size")
	}

	bad = cfg
	bad.TTSSampleRate = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestAudioConfigStreamConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultAudioConfig()
	sc := cfg.StreamConfig()
	if sc.SampleRate != cfg.TTSSampleRate || sc.ChunkSize != cfg.TTSChunkSize {
		t.Errorf("StreamConfig = %+v does not mirror %+v", sc, cfg)
	}
	if sc.BytesPerSecond() != cfg.TTSSampleRate*cfg.TTSSampleWidth*cfg.TTSChannels {
		t.Errorf("BytesPerSecond = %d", sc.BytesPerSecond())
	}
}
