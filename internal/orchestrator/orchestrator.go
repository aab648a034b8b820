// Package orchestrator drives outbound call campaigns and inbound listening:
// it dials contacts, runs the conversation engine over a telephony session,
// and records attempts, outcomes and extracted results in the store.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/callyard/callyard/internal/conversation"
	"github.com/callyard/callyard/internal/observe"
	"github.com/callyard/callyard/internal/softphone"
	"github.com/callyard/callyard/internal/store"
	"github.com/callyard/callyard/pkg/provider/llm"
)

// ContactStore is the persistence surface the orchestrator needs. It is
// implemented by [store.Store]; tests supply fakes.
type ContactStore interface {
	EnsureConversationTables(ctx context.Context, cfg *conversation.Config) error
	GetContact(ctx context.Context, contactID int64) (*store.Contact, error)
	ListContactIDs(ctx context.Context) ([]int64, error)
	EnsureStatus(ctx context.Context, table string, contactID int64) error
	IncrementAttempts(ctx context.Context, table string, contactID int64) error
	SetStatus(ctx context.Context, table string, contactID int64, status string) error
	GetContactStatus(ctx context.Context, table string, contactID int64) (*store.ContactStatus, error)
	UpsertResult(ctx context.Context, table string, contactID int64, info map[string]*string) error
}

var _ ContactStore = (*store.Store)(nil)

// CallSession is the per-call surface of a telephony session: the engine's
// call-control interface plus dialing, listening and teardown.
type CallSession interface {
	conversation.Session
	Call(ctx context.Context, number string) error
	WaitForStopCalling(ctx context.Context, timeout time.Duration)
	Listen(ctx context.Context) (string, error)
	Hangup(ctx context.Context, pairedOnly bool) error
}

var _ CallSession = (*softphone.Session)(nil)

// forwardPollInterval is how often a finished conversation checks whether a
// forwarded call is still bridged before hanging up.
const forwardPollInterval = time.Second

// hangupTimeout bounds the teardown of a call after the conversation ends.
const hangupTimeout = 5 * time.Second

// Orchestrator runs conversations over pool sessions. All exported methods
// are safe for concurrent use; outbound calls are serialised over a single
// long-lived session slot.
type Orchestrator struct {
	store    ContactStore
	pool     *softphone.Pool
	provider llm.Provider
	registry *conversation.Registry
	log      *slog.Logger
	metrics  *observe.Metrics

	logsDir     string
	chimePath   string
	ringTimeout time.Duration

	// newSession is swapped out in tests.
	newSession func() (CallSession, error)

	callMu   sync.Mutex // serialises outbound calls
	outbound CallSession

	mu        sync.Mutex
	cfg       *conversation.Config
	listeners int
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithRegistry sets the plugin function registry passed to every engine.
func WithRegistry(r *conversation.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithMetrics enables metric recording. Without it no metrics are emitted.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogsDir sets the directory for per-call transcript files. Default
// "logs".
func WithLogsDir(dir string) Option {
	return func(o *Orchestrator) { o.logsDir = dir }
}

// WithProcessingChime sets a WAV file played toward the caller while their
// input is being processed. Empty disables the chime.
func WithProcessingChime(path string) Option {
	return func(o *Orchestrator) { o.chimePath = path }
}

// WithRingTimeout bounds how long an outbound call may ring before it is
// treated as unanswered. Zero waits until the attempt fails on its own.
func WithRingTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.ringTimeout = d }
}

// New creates an Orchestrator. st may be nil for one-off calls without
// persistence; pool may be nil in tests that stub newSession.
func New(st ContactStore, pool *softphone.Pool, provider llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		pool:     pool,
		provider: provider,
		log:      slog.Default(),
		logsDir:  "logs",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.newSession == nil && pool != nil {
		o.newSession = func() (CallSession, error) { return pool.NewSession() }
	}
	return o
}

// UpdateOutgoingConfig installs cfg as the conversation used for all
// subsequent calls and ensures its result tables exist.
func (o *Orchestrator) UpdateOutgoingConfig(ctx context.Context, cfg *conversation.Config) error {
	if o.store != nil {
		if err := o.store.EnsureConversationTables(ctx, cfg); err != nil {
			return err
		}
	}
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) outgoingConfig() *conversation.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// outboundSession returns the shared outbound session slot, creating it on
// first use. The slot is reused across calls; Hangup returns it to idle.
func (o *Orchestrator) outboundSession() (CallSession, error) {
	if o.outbound != nil {
		return o.outbound, nil
	}
	if o.newSession == nil {
		return nil, fmt.Errorf("orchestrator: no session source configured")
	}
	s, err := o.newSession()
	if err != nil {
		return nil, err
	}
	o.outbound = s
	return s, nil
}

// ─── Outbound calls ───────────────────────────────────────────────────────────

// CallNumber dials a raw phone number and runs the current conversation on
// it. Nothing is persisted; the transcript goes to the log only.
func (o *Orchestrator) CallNumber(ctx context.Context, number string) error {
	cfg := o.outgoingConfig()
	if cfg == nil {
		return fmt.Errorf("orchestrator: no outgoing conversation configured")
	}

	o.callMu.Lock()
	defer o.callMu.Unlock()

	session, err := o.outboundSession()
	if err != nil {
		return err
	}

	answered, err := o.dial(ctx, session, number)
	if err != nil {
		return err
	}
	if !answered {
		o.log.Info("call not picked up", "number", number)
		return nil
	}

	transcript, status, _, convErr := o.converse(ctx, cfg, session)
	o.finishCall(ctx, session)
	for _, line := range transcript {
		o.log.Info("transcript", "number", number, "line", line)
	}
	o.recordOutcome(ctx, status)
	return convErr
}

// CallContact dials the stored contact and persists the attempt, outcome and
// extracted information under the current conversation's tables.
func (o *Orchestrator) CallContact(ctx context.Context, contactID int64) error {
	if o.store == nil {
		return fmt.Errorf("orchestrator: no store configured")
	}
	cfg := o.outgoingConfig()
	if cfg == nil {
		return fmt.Errorf("orchestrator: no outgoing conversation configured")
	}

	contact, err := o.store.GetContact(ctx, contactID)
	if err != nil {
		return fmt.Errorf("orchestrator: contact %d: %w", contactID, err)
	}

	if err := o.store.EnsureStatus(ctx, cfg.TableName, contactID); err != nil {
		return err
	}
	// The attempt counts even if the contact never picks up.
	if err := o.store.IncrementAttempts(ctx, cfg.TableName, contactID); err != nil {
		return err
	}

	o.callMu.Lock()
	defer o.callMu.Unlock()

	session, err := o.outboundSession()
	if err != nil {
		return err
	}

	answered, err := o.dial(ctx, session, contact.PhoneNumber)
	if err != nil {
		return err
	}
	if !answered {
		o.log.Info("contact not picked up", "contact_id", contactID, "number", contact.PhoneNumber)
		return nil
	}

	transcript, status, info, convErr := o.converse(ctx, cfg, session)
	o.finishCall(ctx, session)
	o.recordOutcome(ctx, status)

	if err := o.writeTranscript(cfg.TableName, contactID, transcript); err != nil {
		o.log.Warn("transcript write failed", "contact_id", contactID, "error", err)
	}

	if status == conversation.StatusCompleted {
		if err := o.store.SetStatus(ctx, cfg.TableName, contactID, store.StatusCompleted); err != nil {
			return err
		}
		if err := o.store.UpsertResult(ctx, cfg.TableName, contactID, info); err != nil {
			return err
		}
	} else {
		if err := o.store.SetStatus(ctx, cfg.TableName, contactID, store.StatusAborted); err != nil {
			return err
		}
	}
	return convErr
}

// CallContacts runs a campaign over the given contact ids, or over every
// stored contact when ids is nil. Contacts already reached are skipped, as
// are contacts at or above maxAttempts (0 means unlimited). Per-contact
// failures are logged and do not stop the campaign.
func (o *Orchestrator) CallContacts(ctx context.Context, ids []int64, maxAttempts int) error {
	if o.store == nil {
		return fmt.Errorf("orchestrator: no store configured")
	}
	cfg := o.outgoingConfig()
	if cfg == nil {
		return fmt.Errorf("orchestrator: no outgoing conversation configured")
	}

	if ids == nil {
		var err error
		ids, err = o.store.ListContactIDs(ctx)
		if err != nil {
			return err
		}
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := o.store.GetContact(ctx, id); err != nil {
			o.log.Warn("skipping unknown contact", "contact_id", id, "error", err)
			continue
		}
		status, err := o.store.GetContactStatus(ctx, cfg.TableName, id)
		if err != nil {
			return err
		}
		if status != nil {
			if status.Status != store.StatusNotReached {
				continue
			}
			if maxAttempts > 0 && status.NumAttempts >= maxAttempts {
				continue
			}
		}
		if err := o.CallContact(ctx, id); err != nil {
			o.log.Error("contact call failed", "contact_id", id, "error", err)
		}
	}
	return nil
}

// dial places the call and waits until it is picked up or the ring timeout
// expires.
func (o *Orchestrator) dial(ctx context.Context, session CallSession, number string) (bool, error) {
	if o.metrics != nil {
		o.metrics.RecordCallPlaced(ctx, "outgoing")
	}
	start := time.Now()
	if err := session.Call(ctx, number); err != nil {
		return false, err
	}
	session.WaitForStopCalling(ctx, o.ringTimeout)

	answered := session.HasPickedUpCall()
	if o.metrics != nil {
		o.metrics.CallSetupDuration.Record(ctx, time.Since(start).Seconds())
		if answered {
			o.metrics.CallsAnswered.Add(ctx, 1)
		}
	}
	if !answered {
		hangupCtx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		defer cancel()
		if err := session.Hangup(hangupCtx, false); err != nil {
			o.log.Warn("hangup of unanswered call failed", "error", err)
		}
	}
	return answered, nil
}

// finishCall lets a forwarded call run until the bridged legs hang up, then
// tears the session down.
func (o *Orchestrator) finishCall(ctx context.Context, session CallSession) {
	for session.IsForwarded() && ctx.Err() == nil {
		time.Sleep(forwardPollInterval)
	}

	hangupCtx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	if err := session.Hangup(hangupCtx, false); err != nil {
		o.log.Warn("hangup failed", "error", err)
	}
}

// ─── Conversation loop ────────────────────────────────────────────────────────

// converse runs one full conversation on a picked-up session: speak the
// opening fragments, then alternate listening and stepping the engine until
// it reaches a terminal status or the caller is gone. It returns the
// transcript, the final status and the extracted information.
func (o *Orchestrator) converse(ctx context.Context, cfg *conversation.Config, session CallSession) ([]string, conversation.Status, map[string]*string, error) {
	if o.metrics != nil {
		o.metrics.ActiveCalls.Add(ctx, 1)
		defer o.metrics.ActiveCalls.Add(ctx, -1)
	}

	eng, err := conversation.NewEngine(cfg, o.provider, session,
		conversation.WithLogger(o.log),
		conversation.WithRegistry(o.registry),
	)
	if err != nil {
		return nil, conversation.StatusAborted, nil, err
	}

	var transcript []string
	say := func(frags []conversation.Fragment) error {
		for _, f := range frags {
			transcript = append(transcript, "Caller: "+strings.TrimRight(f.Text, "\n"))
			if o.metrics != nil {
				o.metrics.RecordUtterance(ctx, "caller")
			}
			if err := session.Say(ctx, f.Text, f.Cacheable()); err != nil {
				return err
			}
		}
		return nil
	}

	finish := func(convErr error) ([]string, conversation.Status, map[string]*string, error) {
		// Join in-flight filter tasks before snapshotting the results.
		eng.Wait()
		return transcript, eng.Status(), eng.Information(), convErr
	}

	frags, err := eng.Step(ctx, "")
	if err != nil {
		return finish(err)
	}
	if err := say(frags); err != nil {
		return finish(err)
	}

	for eng.Status() == conversation.StatusInProgress && session.HasPickedUpCall() {
		input, err := session.Listen(ctx)
		if err != nil {
			return finish(err)
		}
		if input == softphone.Interrupted {
			break
		}
		transcript = append(transcript, "User: "+input)
		if o.metrics != nil {
			o.metrics.RecordUtterance(ctx, "user")
		}

		if o.chimePath != "" {
			if err := session.PlayAudio(ctx, o.chimePath, false); err != nil {
				o.log.Debug("processing chime failed", "error", err)
			}
		}

		frags, err := eng.Step(ctx, input)
		session.StopAudio()
		if err != nil {
			return finish(err)
		}
		if err := say(frags); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}

func (o *Orchestrator) recordOutcome(ctx context.Context, status conversation.Status) {
	if o.metrics != nil {
		o.metrics.RecordCallOutcome(ctx, status.String())
	}
}

// writeTranscript stores the call transcript as
// {logsDir}/{table}_{contactID}.log, one line per utterance.
func (o *Orchestrator) writeTranscript(table string, contactID int64, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if err := os.MkdirAll(o.logsDir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: create logs dir: %w", err)
	}
	path := filepath.Join(o.logsDir, fmt.Sprintf("%s_%d.log", table, contactID))
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// ─── Inbound listening ────────────────────────────────────────────────────────

// StartListening puts n pool sessions into the incoming-call rotation, each
// running the current conversation on every call it answers.
func (o *Orchestrator) StartListening(ctx context.Context, n int) error {
	if o.pool == nil {
		return fmt.Errorf("orchestrator: no pool configured")
	}
	if o.outgoingConfig() == nil {
		return fmt.Errorf("orchestrator: no conversation configured")
	}
	if o.metrics != nil {
		o.metrics.ActiveListeners.Add(ctx, int64(n))
	}
	o.mu.Lock()
	o.listeners += n
	o.mu.Unlock()

	return o.pool.StartListening(ctx, n, func(ctx context.Context, session *softphone.Session) error {
		cfg := o.outgoingConfig()
		if o.metrics != nil {
			o.metrics.RecordCallPlaced(ctx, "incoming")
			o.metrics.CallsAnswered.Add(ctx, 1)
		}

		transcript, status, _, err := o.converse(ctx, cfg, session)
		o.recordOutcome(ctx, status)
		for _, line := range transcript {
			o.log.Info("transcript", "session_id", session.ID(), "line", line)
		}

		// Let a forwarded call finish; the worker hangs up afterwards.
		for session.IsForwarded() && ctx.Err() == nil {
			time.Sleep(forwardPollInterval)
		}
		return err
	})
}

// StopListening drains the listener workers started by StartListening.
func (o *Orchestrator) StopListening(ctx context.Context) {
	if o.pool == nil {
		return
	}
	o.pool.StopListening()
	o.mu.Lock()
	stopped := o.listeners
	o.listeners = 0
	o.mu.Unlock()
	if o.metrics != nil && stopped > 0 {
		o.metrics.ActiveListeners.Add(ctx, -int64(stopped))
	}
}
