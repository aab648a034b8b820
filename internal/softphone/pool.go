package softphone

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/diago"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/callyard/callyard/pkg/provider/stt"
	"github.com/callyard/callyard/pkg/provider/tts"
)

// Handler runs one full conversation on a session whose call has been picked
// up. Listener workers invoke it once per accepted call.
type Handler func(ctx context.Context, session *Session) error

// Pool owns the process-wide SIP endpoint and registered account shared by
// all sessions, routes incoming calls to free sessions and supervises
// listener workers.
type Pool struct {
	creds *Credentials
	audio AudioConfig
	ttsP  tts.Provider
	sttP  stt.Provider
	cache *Cache
	log   *slog.Logger

	artifactsDir string

	ua *sipgo.UserAgent
	dg *diago.Diago

	mu       sync.Mutex
	sessions []*Session
	closed   bool

	listening atomic.Bool
	workers   sync.WaitGroup
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	// BindHost and BindPort select the local SIP transport address.
	// Defaults: 0.0.0.0:5060.
	BindHost string
	BindPort int

	// ArtifactsDir holds per-session scratch files. Default "artifacts".
	ArtifactsDir string

	// CacheDir holds the persistent TTS cache. Default "cache".
	CacheDir string

	Logger *slog.Logger
}

// NewPool creates the SIP endpoint and account shared by all sessions.
func NewPool(creds *Credentials, audio AudioConfig, ttsP tts.Provider, sttP stt.Provider, opts PoolOptions) (*Pool, error) {
	if creds == nil {
		return nil, fmt.Errorf("softphone: credentials are required")
	}
	if err := audio.Validate(); err != nil {
		return nil, err
	}
	if opts.BindHost == "" {
		opts.BindHost = "0.0.0.0"
	}
	if opts.BindPort == 0 {
		opts.BindPort = 5060
	}
	if opts.ArtifactsDir == "" {
		opts.ArtifactsDir = "artifacts"
	}
	if opts.CacheDir == "" {
		opts.CacheDir = "cache"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := os.MkdirAll(opts.ArtifactsDir, 0o755); err != nil {
		return nil, fmt.Errorf("softphone: create artifacts dir: %w", err)
	}
	cache, err := NewCache(opts.CacheDir)
	if err != nil {
		return nil, err
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("softphone: create user agent: %w", err)
	}
	dg := diago.NewDiago(ua, diago.WithTransport(diago.Transport{
		Transport: "udp",
		BindHost:  opts.BindHost,
		BindPort:  opts.BindPort,
	}))

	return &Pool{
		creds:        creds,
		audio:        audio,
		ttsP:         ttsP,
		sttP:         sttP,
		cache:        cache,
		log:          opts.Logger,
		artifactsDir: opts.ArtifactsDir,
		ua:           ua,
		dg:           dg,
	}, nil
}

// Register maintains the SIP registration with the registrar. It blocks until
// ctx is done or registration fails permanently.
func (p *Pool) Register(ctx context.Context) error {
	recipient := sip.Uri{User: p.creds.Username, Host: p.creds.RegistrarHost()}
	err := p.dg.Register(ctx, recipient, diago.RegisterOptions{
		Username: p.creds.Username,
		Password: p.creds.Password,
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("softphone: register: %w", err)
	}
	return nil
}

// Serve answers incoming calls, binding each to the first free session. When
// every session is occupied the call is rejected with 486 Busy Here. It
// blocks until ctx is done.
func (p *Pool) Serve(ctx context.Context) error {
	return p.dg.Serve(ctx, func(inDialog *diago.DialogServerSession) {
		p.routeIncoming(inDialog)
	})
}

func (p *Pool) routeIncoming(inDialog incomingLeg) {
	p.mu.Lock()
	sessions := make([]*Session, len(p.sessions))
	copy(sessions, p.sessions)
	p.mu.Unlock()

	for _, session := range sessions {
		if session.acceptIncoming(inDialog) {
			// The dialog lives for the duration of this handler.
			<-inDialog.Context().Done()
			return
		}
	}

	p.log.Info("rejecting incoming call, no free session", "from", inDialog.FromUser())
	if err := inDialog.Respond(sip.StatusBusyHere, "Busy", nil); err != nil {
		p.log.Warn("busy response failed", "error", err)
	}
}

// NewSession creates a session bound to this pool's endpoint and adds it to
// the incoming-call rotation.
func (p *Pool) NewSession() (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("softphone: pool is closed")
	}
	s := newSession(p, p.ttsP, p.sttP, p.cache, p.artifactsDir, p.log)
	p.sessions = append(p.sessions, s)
	return s, nil
}

// RemoveSession takes a session out of the rotation and hangs up anything
// still in flight. When the last session leaves, the SIP endpoint is torn
// down.
func (p *Pool) RemoveSession(ctx context.Context, s *Session) {
	p.mu.Lock()
	for i, candidate := range p.sessions {
		if candidate == s {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			break
		}
	}
	empty := len(p.sessions) == 0
	p.mu.Unlock()

	if err := s.Hangup(ctx, false); err != nil {
		p.log.Warn("hangup on session removal failed", "error", err)
	}
	if empty {
		p.Close()
	}
}

// Sessions returns a snapshot of the current session slots.
func (p *Pool) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Close tears down the SIP endpoint. Sessions still in the pool become
// unusable.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	if err := p.ua.Close(); err != nil {
		p.log.Warn("user agent close failed", "error", err)
	}
}

// ─── Listener supervision ─────────────────────────────────────────────────────

// StartListening creates n sessions and one listener worker per session.
// Each worker polls its session for a picked-up call at 1 Hz and runs handler
// for every accepted call. A worker that fails is replaced so the session can
// accept the next incoming call.
func (p *Pool) StartListening(ctx context.Context, n int, handler Handler) error {
	if n <= 0 {
		return fmt.Errorf("softphone: listener count must be positive")
	}
	p.listening.Store(true)

	for i := 0; i < n; i++ {
		session, err := p.NewSession()
		if err != nil {
			return err
		}
		p.workers.Add(1)
		go p.listenWorker(ctx, session, handler)
	}
	return nil
}

// StopListening signals all listener workers to exit at their next poll and
// waits for them.
func (p *Pool) StopListening() {
	p.listening.Store(false)
	p.workers.Wait()
}

// listenWorker is the supervision loop for one session. Each iteration is one
// worker generation: wait for pickup, run the conversation, hang up. Failures
// are logged and the next generation starts so a new call can be accepted.
func (p *Pool) listenWorker(ctx context.Context, session *Session, handler Handler) {
	defer p.workers.Done()
	log := p.log.With("session_id", session.ID())
	log.Info("listening")

	for {
		if !p.listening.Load() || ctx.Err() != nil {
			return
		}
		if !session.HasPickedUpCall() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		log.Info("incoming call picked up")
		if err := runGuarded(ctx, session, handler); err != nil {
			log.Error("listener conversation failed", "error", err)
		}

		hangupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := session.Hangup(hangupCtx, false); err != nil {
			log.Warn("hangup failed", "error", err)
		}
		cancel()
	}
}

// runGuarded invokes the handler, converting panics into errors so one bad
// conversation cannot take the worker down for good.
func runGuarded(ctx context.Context, session *Session, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("softphone: conversation panic: %v", r)
		}
	}()
	return handler(ctx, session)
}
