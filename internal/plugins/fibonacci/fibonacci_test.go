package fibonacci

import (
	"context"
	"testing"
	"time"

	"github.com/callyard/callyard/internal/conversation"
)

type fakeSession struct {
	played  []string
	stopped int
}

func (f *fakeSession) Say(context.Context, string, bool) error { return nil }

func (f *fakeSession) PlayAudio(_ context.Context, path string, _ bool) error {
	f.played = append(f.played, path)
	return nil
}

func (f *fakeSession) StopAudio() { f.stopped++ }

func (f *fakeSession) Forward(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (f *fakeSession) HasPickedUpCall() bool { return true }
func (f *fakeSession) IsForwarded() bool     { return false }

func strptr(s string) *string { return &s }

func TestReadFibonacci(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		info    map[string]*string
		want    string
		wantErr bool
	}{
		{"seven numbers", map[string]*string{"num_fibonacci": strptr("7")}, "0 1 1 2 3 5 8", false},
		{"one number", map[string]*string{"num_fibonacci": strptr("1")}, "0", false},
		{"whitespace", map[string]*string{"num_fibonacci": strptr(" 5 ")}, "0 1 1 2 3", false},
		{"missing field", map[string]*string{}, "", true},
		{"nil value", map[string]*string{"num_fibonacci": nil}, "", true},
		{"not a number", map[string]*string{"num_fibonacci": strptr("many")}, "", true},
		{"zero", map[string]*string{"num_fibonacci": strptr("0")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ReadFibonacci(context.Background(), tt.info, &fakeSession{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlayMusicStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	session := &fakeSession{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := playMusic(ctx, session, "music.wav")
	if err != nil {
		t.Fatalf("playMusic: %v", err)
	}
	if out != "" {
		t.Errorf("out = %q, want empty", out)
	}
	if len(session.played) != 1 || session.played[0] != "music.wav" {
		t.Errorf("played = %v", session.played)
	}
	if session.stopped != 1 {
		t.Errorf("stopped = %d, want 1", session.stopped)
	}
}

func TestRegisterBindsFunctions(t *testing.T) {
	t.Parallel()

	reg := conversation.NewRegistry()
	Register(reg, "music.wav")

	if _, err := reg.Lookup(Module, "read_fibonacci"); err != nil {
		t.Errorf("read_fibonacci not registered: %v", err)
	}
	if _, err := reg.Lookup(Module, "play_music"); err != nil {
		t.Errorf("play_music not registered: %v", err)
	}
}
