package softphone

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/emiago/diago"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/callyard/callyard/pkg/provider/stt"
	"github.com/callyard/callyard/pkg/provider/tts"
)

// State is the lifecycle phase of a session's primary call leg.
type State int

const (
	StateIdle State = iota
	StateCalling
	StateEarly
	StateConfirmed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCalling:
		return "CALLING"
	case StateEarly:
		return "EARLY"
	case StateConfirmed:
		return "CONFIRMED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// pickupPollInterval is how often state waits poll the call leg.
const pickupPollInterval = 200 * time.Millisecond

// dialogLeg is the slice of a diago dialog the session drives on each call
// leg. Narrow so tests can bind a fake leg without a SIP stack.
type dialogLeg interface {
	Context() context.Context
	Media() *diago.DialogMedia
	Hangup(ctx context.Context) error
	Close() error
}

// incomingLeg is a dialogLeg that arrived on the server side and can be
// answered or rejected.
type incomingLeg interface {
	dialogLeg
	FromUser() string
	Trying() error
	Ringing() error
	Answer() error
	Respond(status int, reason string, body []byte, headers ...sip.Header) error
}

var (
	_ dialogLeg   = (*diago.DialogClientSession)(nil)
	_ incomingLeg = (*diago.DialogServerSession)(nil)
)

// Session is one call slot of a pool: the primary ("active") leg, an optional
// paired leg while forwarding, and the media players and recorder working the
// active leg. Scratch files are namespaced by the session UUID and removed on
// hangup.
type Session struct {
	id    string
	pool  *Pool
	audio AudioConfig
	ttsP  tts.Provider
	sttP  stt.Provider
	cache *Cache
	log   *slog.Logger

	artifactsDir string

	mu      sync.Mutex
	state   State
	active  dialogLeg
	paired  dialogLeg
	player  *player
	sayGate sync.Mutex // serialises Say and PlayAudio toward the active leg
}

// ID returns the session UUID used to namespace its scratch files.
func (s *Session) ID() string {
	return s.id
}

func newSession(pool *Pool, ttsP tts.Provider, sttP stt.Provider, cache *Cache, artifactsDir string, log *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:           id,
		pool:         pool,
		audio:        pool.audio,
		ttsP:         ttsP,
		sttP:         sttP,
		cache:        cache,
		artifactsDir: artifactsDir,
		log:          log.With("session_id", id),
	}
}

// ─── Call placement ───────────────────────────────────────────────────────────

// Call places an outbound call to number. It returns as soon as the INVITE is
// in flight; use WaitForStopCalling to block until the remote side picks up
// or the attempt fails.
func (s *Session) Call(ctx context.Context, number string) error {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return fmt.Errorf("softphone: call already in progress")
	}
	s.state = StateCalling
	s.mu.Unlock()

	recipient := sip.Uri{User: number, Host: s.pool.creds.RegistrarHost()}
	dialog, err := s.pool.dg.NewDialog(recipient, diago.NewDialogOptions{})
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("softphone: create dialog: %w", err)
	}

	s.mu.Lock()
	s.active = dialog
	s.mu.Unlock()

	go func() {
		err := dialog.Invite(ctx, diago.InviteClientOptions{
			Username: s.pool.creds.Username,
			Password: s.pool.creds.Password,
			OnResponse: func(res *sip.Response) error {
				if res.StatusCode == sip.StatusRinging || res.StatusCode == sip.StatusSessionInProgress {
					s.setState(StateEarly)
				}
				return nil
			},
		})
		if err != nil {
			s.log.Info("outbound call not established", "number", number, "error", err)
			s.clearActive(dialog)
			return
		}
		if err := dialog.Ack(ctx); err != nil {
			s.log.Warn("ack failed", "error", err)
			s.clearActive(dialog)
			return
		}
		s.setState(StateConfirmed)
		s.watchLeg(dialog, false)
	}()
	return nil
}

// WaitForStopCalling blocks while the active leg is still ringing. A zero
// timeout waits until the context is done.
func (s *Session) WaitForStopCalling(ctx context.Context, timeout time.Duration) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		st := s.State()
		if st != StateCalling && st != StateEarly {
			return
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pickupPollInterval):
		}
	}
}

// HasPickedUpCall reports whether the active leg is confirmed with live
// media.
func (s *Session) HasPickedUpCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfirmed || s.active == nil {
		return false
	}
	return s.active.Context().Err() == nil
}

// IsForwarded reports whether a paired leg is currently bridged.
func (s *Session) IsForwarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paired != nil
}

// State returns the current lifecycle state of the active leg.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// clearActive drops dialog if it is still the active leg, used when an
// outbound attempt fails before confirmation.
func (s *Session) clearActive(dialog dialogLeg) {
	s.mu.Lock()
	if s.active == dialog {
		s.active = nil
		s.state = StateDisconnected
	}
	s.mu.Unlock()
	dialog.Close()
}

// ─── Incoming calls ───────────────────────────────────────────────────────────

// acceptIncoming tries to bind an incoming dialog as this session's active
// leg, answering with 200 OK. Returns false when the session is occupied or
// the answer failed.
func (s *Session) acceptIncoming(inDialog incomingLeg) bool {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return false
	}
	s.active = inDialog
	s.state = StateCalling
	s.mu.Unlock()

	if err := inDialog.Trying(); err != nil {
		s.log.Warn("trying failed", "error", err)
		s.releaseIncoming(inDialog)
		return false
	}
	if err := inDialog.Ringing(); err != nil {
		s.log.Warn("ringing failed", "error", err)
		s.releaseIncoming(inDialog)
		return false
	}
	if err := inDialog.Answer(); err != nil {
		s.log.Warn("answer failed", "error", err)
		s.releaseIncoming(inDialog)
		return false
	}

	s.setState(StateConfirmed)
	s.watchLeg(inDialog, false)
	s.log.Info("incoming call answered", "from", inDialog.FromUser())
	return true
}

func (s *Session) releaseIncoming(inDialog incomingLeg) {
	s.mu.Lock()
	if s.active == inDialog {
		s.active = nil
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// watchLeg hangs up when the leg disconnects. For the paired leg only the
// pair is torn down, leaving the primary call usable.
func (s *Session) watchLeg(leg dialogLeg, isPaired bool) {
	go func() {
		<-leg.Context().Done()

		s.mu.Lock()
		stillCurrent := (isPaired && s.paired == leg) || (!isPaired && s.active == leg)
		s.mu.Unlock()
		if !stillCurrent {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Hangup(ctx, isPaired); err != nil {
			s.log.Warn("hangup after disconnect failed", "error", err)
		}
	}()
}

// ─── Forwarding ───────────────────────────────────────────────────────────────

// Forward places a second outbound leg to number and bridges its media with
// the active leg. While forwarded, Say and PlayAudio are rejected. Returns
// false when the forwarded leg never picks up.
func (s *Session) Forward(ctx context.Context, number string, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	if s.active == nil || s.state != StateConfirmed {
		s.mu.Unlock()
		return false, fmt.Errorf("softphone: no confirmed call to forward")
	}
	if s.paired != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("softphone: already in forwarding session")
	}
	active, ok := s.active.(diago.DialogSession)
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("softphone: active leg cannot be bridged")
	}

	s.log.Info("forwarding call", "number", number)

	inviteCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		inviteCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	recipient := sip.Uri{User: number, Host: s.pool.creds.RegistrarHost()}
	dialog, err := s.pool.dg.NewDialog(recipient, diago.NewDialogOptions{})
	if err != nil {
		return false, fmt.Errorf("softphone: create forward dialog: %w", err)
	}
	err = dialog.Invite(inviteCtx, diago.InviteClientOptions{
		Username: s.pool.creds.Username,
		Password: s.pool.creds.Password,
	})
	if err != nil {
		dialog.Close()
		s.log.Info("forwarded call not picked up", "number", number, "error", err)
		return false, nil
	}
	if err := dialog.Ack(inviteCtx); err != nil {
		dialog.Close()
		return false, fmt.Errorf("softphone: ack forward leg: %w", err)
	}

	// Stop local playback toward the active leg before cross-connecting.
	s.stopPlayer()

	bridge := diago.NewBridge()
	if err := bridge.AddDialogSession(active); err != nil {
		dialog.Hangup(ctx)
		dialog.Close()
		return false, fmt.Errorf("softphone: bridge active leg: %w", err)
	}
	if err := bridge.AddDialogSession(dialog); err != nil {
		dialog.Hangup(ctx)
		dialog.Close()
		return false, fmt.Errorf("softphone: bridge paired leg: %w", err)
	}

	s.mu.Lock()
	s.paired = dialog
	s.mu.Unlock()
	s.watchLeg(dialog, true)
	return true, nil
}

// ─── Teardown ─────────────────────────────────────────────────────────────────

// Hangup tears down the paired leg and, unless pairedOnly is set, the active
// leg and all per-session scratch files. The session returns to IDLE and may
// accept a new call.
func (s *Session) Hangup(ctx context.Context, pairedOnly bool) error {
	s.mu.Lock()
	paired := s.paired
	s.paired = nil
	var active dialogLeg
	var pl *player
	if !pairedOnly {
		active = s.active
		s.active = nil
		pl = s.player
		s.player = nil
		s.state = StateIdle
	}
	s.mu.Unlock()

	if paired != nil {
		if err := paired.Hangup(ctx); err != nil {
			s.log.Debug("paired hangup", "error", err)
		}
		paired.Close()
	}
	if pairedOnly {
		return nil
	}

	if pl != nil {
		pl.Stop()
	}
	if active != nil {
		if err := active.Hangup(ctx); err != nil {
			s.log.Debug("active hangup", "error", err)
		}
		active.Close()
	}
	s.removeArtifacts()
	return nil
}

// removeArtifacts deletes all scratch files namespaced by this session's id.
func (s *Session) removeArtifacts() {
	pattern := filepath.Join(s.artifactsDir, s.id+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove artifact", "path", path, "error", err)
		}
	}
}

// activeMedia returns the active leg's media while not forwarded. The second
// return is a reject reason for the log when unavailable.
func (s *Session) activeMedia() (*diago.DialogMedia, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, "no call in progress"
	}
	if s.paired != nil {
		return nil, "in forwarding session"
	}
	return s.active.Media(), ""
}

// swapPlayer installs next as the only transmitting player, stopping any
// prior one first.
func (s *Session) swapPlayer(next *player) {
	s.mu.Lock()
	prev := s.player
	s.player = next
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

// stopPlayer stops the current player, if any.
func (s *Session) stopPlayer() {
	s.swapPlayer(nil)
}

// artifactPath returns the session-scoped scratch file path for suffix.
func (s *Session) artifactPath(suffix string) string {
	return filepath.Join(s.artifactsDir, fmt.Sprintf("%s_%s", s.id, suffix))
}
