package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/callyard/callyard/pkg/provider/llm"
)

// Status is the overall extraction state of one engine instance.
type Status int

const (
	StatusInProgress Status = iota
	StatusCompleted
	StatusAborted
)

// String implements fmt.Stringer. The values double as status column values
// in the per-conversation status table.
func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Kind tags an utterance fragment with the item type that produced it so the
// caller can decide per-fragment caching. Only read fragments are cacheable.
type Kind string

const (
	KindRead        Kind = "read"
	KindPrompt      Kind = "prompt"
	KindInformation Kind = "information"
	KindChoice      Kind = "choice"
	KindFunction    Kind = "function"
)

// Fragment is one utterance produced by a Step call.
type Fragment struct {
	Text string
	Kind Kind
}

// Cacheable reports whether the fragment's audio may be cached. Scripted text
// is deterministic; everything else varies with the conversation.
func (f Fragment) Cacheable() bool {
	return f.Kind == KindRead
}

// Engine walks one conversation graph for one call. It consumes a deep copy
// of the config destructively, so each call gets a fresh Engine.
//
// Step is not safe for concurrent use; the walker is single-threaded per
// session. The extracted information map is shared with a background filter
// goroutine and is guarded by infoMu.
type Engine struct {
	cfg      *Config
	provider llm.Provider
	session  Session
	registry *Registry
	log      *slog.Logger

	queue   []*Item
	current *Item
	history []llm.Message

	mu     sync.Mutex
	status Status

	infoMu sync.Mutex
	info   map[string]*string

	// filterWG tracks in-flight filter goroutines so tests can synchronise
	// before inspecting the information map.
	filterWG sync.WaitGroup
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithRegistry sets the plugin function registry used by function and
// function_choice items. Without one those items fail at execution time.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// NewEngine constructs an Engine over a deep copy of cfg, positioned at the
// first item of the entry path.
func NewEngine(cfg *Config, provider llm.Provider, session Session, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg.Clone(),
		provider: provider,
		session:  session,
		log:      slog.Default(),
		info:     make(map[string]*string),
	}
	for _, o := range opts {
		o(e)
	}
	if err := e.loadPath(PathEntry); err != nil {
		return nil, err
	}
	return e, nil
}

// loadPath replaces the remaining queue with the named path's items and pops
// the first one as the current item.
func (e *Engine) loadPath(name string) error {
	items, ok := e.cfg.Paths[name]
	if !ok {
		return fmt.Errorf("conversation: unknown path %q", name)
	}
	if len(items) == 0 {
		return fmt.Errorf("conversation: path %q is empty", name)
	}
	e.queue = items[1:]
	e.current = items[0]
	return nil
}

// Step appends the user input to the chat history and processes conversation
// items until the next interactive suspension point. It returns the utterance
// fragments produced along the way.
//
// Once the status is terminal, Step is a no-op returning an empty list.
func (e *Engine) Step(ctx context.Context, userInput string) ([]Fragment, error) {
	if e.Status() != StatusInProgress {
		return nil, nil
	}
	return e.process(ctx, userInput, true, false)
}

// Information returns a snapshot of the extracted fields. Acquiring the info
// mutex establishes a happens-before barrier with any in-flight filter task.
func (e *Engine) Information() map[string]*string {
	e.infoMu.Lock()
	defer e.infoMu.Unlock()
	out := make(map[string]*string, len(e.info))
	for k, v := range e.info {
		out[k] = v
	}
	return out
}

// Status returns the current extraction status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// setStatus transitions to next unless the current status is already
// terminal. Terminal states are sticky.
func (e *Engine) setStatus(next Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusInProgress {
		e.status = next
	}
}

// Wait blocks until all background filter goroutines have finished. Primarily
// useful in tests before inspecting Information.
func (e *Engine) Wait() {
	e.filterWG.Wait()
}

// ─── Walker ───────────────────────────────────────────────────────────────────

// process is the walker loop. aborted marks that the queue is the aborted
// path, in which case exhaustion must not mark the conversation completed.
func (e *Engine) process(ctx context.Context, userInput string, appendInput, aborted bool) ([]Fragment, error) {
	if appendInput {
		e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: userInput})
	}

	var out []Fragment
	for {
		item := e.current
		switch item.Type {
		case TypeRead:
			text := item.Text + "\n"
			out = append(out, Fragment{Text: text, Kind: KindRead})
			e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: text})

		case TypePrompt:
			resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
				SystemPrompts: []string{item.Prompt},
				Messages:      e.history,
			})
			if err != nil {
				return out, fmt.Errorf("conversation: prompt item: %w", err)
			}
			text := resp + "\n"
			out = append(out, Fragment{Text: text, Kind: KindPrompt})
			e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: text})

		case TypePath:
			e.queue = e.cfg.Paths[item.Path]

		case TypeInformation:
			frags, err := e.informationChain(ctx, userInput, item)
			out = append(out, frags...)
			return out, err

		case TypeChoice:
			frags, err := e.choiceChain(ctx, userInput, item)
			out = append(out, frags...)
			return out, err

		case TypeFunction:
			text, err := e.callFunction(ctx, item)
			if err != nil {
				return out, err
			}
			if text != "" {
				out = append(out, Fragment{Text: text, Kind: KindFunction})
			}

		case TypeFunctionChoice:
			key, err := e.callFunction(ctx, item)
			if err != nil {
				return out, err
			}
			seq, ok := item.Options[key]
			if !ok {
				return out, fmt.Errorf("conversation: function %s.%s returned unknown option %q", item.Module, item.Function, key)
			}
			e.queue = seq

		default:
			return out, fmt.Errorf("conversation: unknown item type %q", item.Type)
		}

		if len(e.queue) == 0 {
			if !aborted {
				e.setStatus(StatusCompleted)
			}
			return out, nil
		}
		e.current = e.queue[0]
		e.queue = e.queue[1:]
		if item.Interactive {
			// Interactive items are the sole suspension points.
			return out, nil
		}
	}
}

// callFunction resolves and invokes a plugin function with a snapshot of the
// extracted information. Waiting on the info mutex synchronises with any
// in-flight filter task.
func (e *Engine) callFunction(ctx context.Context, item *Item) (string, error) {
	if e.registry == nil {
		return "", fmt.Errorf("conversation: no function registry configured for %s.%s", item.Module, item.Function)
	}
	fn, err := e.registry.Lookup(item.Module, item.Function)
	if err != nil {
		return "", err
	}
	snapshot := e.Information()
	return fn(ctx, snapshot, e.session)
}

// ─── Information extraction chain ─────────────────────────────────────────────

func (e *Engine) informationChain(ctx context.Context, userInput string, item *Item) ([]Fragment, error) {
	verdict, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompts: []string{
			verifyInformationPrompt,
			"Required information: " + item.Description,
		},
		Messages:  e.history,
		UserInput: userInput,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: verify information: %w", err)
	}

	switch strings.TrimSpace(verdict) {
	case verdictYes:
		return e.informationSuccessful(ctx, userInput, item)
	case verdictNo:
		return e.elicitInformation(ctx, item)
	case verdictAbort:
		return e.enterAborted(ctx, userInput)
	default:
		// Classifier went off-script; treat it as an abort.
		return e.enterAborted(ctx, userInput)
	}
}

// informationSuccessful launches the background filter task and continues the
// walk with the next item.
func (e *Engine) informationSuccessful(ctx context.Context, userInput string, item *Item) ([]Fragment, error) {
	title := item.Title
	description := item.Description
	format := item.Format

	// The info mutex is held for the whole filter task, so anyone acquiring
	// it afterwards sees the extracted value.
	e.infoMu.Lock()
	e.filterWG.Add(1)
	go func() {
		defer e.filterWG.Done()
		defer e.infoMu.Unlock()
		e.info[title] = e.filterInformation(ctx, userInput, description, format)
	}()

	if len(e.queue) == 0 {
		e.setStatus(StatusCompleted)
		return nil, nil
	}
	e.current = e.queue[0]
	e.queue = e.queue[1:]
	return e.process(ctx, userInput, false, false)
}

// filterInformation extracts the value in the requested format, returning nil
// when the model cannot find it or the provider fails. The filter result is
// off the critical path, so errors are logged and swallowed.
func (e *Engine) filterInformation(ctx context.Context, userInput, description, format string) *string {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompts: []string{
			filterInformationPrompt,
			"Information description: " + description,
			"Information format: " + format,
		},
		UserInput: userInput,
	})
	if err != nil {
		e.log.Warn("information filter failed", "description", description, "error", err)
		return nil
	}
	value := strings.TrimSpace(resp)
	if value == filterFailed {
		return nil
	}
	return &value
}

func (e *Engine) elicitInformation(ctx context.Context, item *Item) ([]Fragment, error) {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompts: []string{
			elicitInformationPrompt,
			"Information you want to have: " + item.Description,
		},
		Messages: e.history,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: elicit information: %w", err)
	}
	e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: resp})
	return []Fragment{{Text: resp, Kind: KindInformation}}, nil
}

// ─── Choice extraction chain ──────────────────────────────────────────────────

func (e *Engine) choiceChain(ctx context.Context, userInput string, item *Item) ([]Fragment, error) {
	keys := optionKeys(item.Options)
	verdict, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompts: []string{
			verifyChoicePrompt,
			fmt.Sprintf("Choice prompt: %s, Possible choices: %s", item.Choice, strings.Join(keys, ", ")),
		},
		Messages:  e.history,
		UserInput: userInput,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: verify choice: %w", err)
	}

	selected := strings.TrimSpace(verdict)
	switch selected {
	case choiceAbort:
		return e.enterAborted(ctx, userInput)
	case choiceNone:
		return e.elicitChoice(ctx, item, keys)
	}

	seq, ok := item.Options[selected]
	if !ok {
		// Classifier went off-script. Re-ask instead of failing the call.
		e.log.Warn("choice classifier returned unknown option", "choice", item.Choice, "selected", selected)
		return e.elicitChoice(ctx, item, keys)
	}
	e.current = seq[0]
	e.queue = seq[1:]
	return e.process(ctx, userInput, false, false)
}

func (e *Engine) elicitChoice(ctx context.Context, item *Item, keys []string) ([]Fragment, error) {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompts: []string{
			elicitChoicePrompt,
			fmt.Sprintf("Choice prompt: %s, Possible choices: %s", item.Choice, strings.Join(keys, ", ")),
		},
		Messages: e.history,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: elicit choice: %w", err)
	}
	e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: resp})
	return []Fragment{{Text: resp, Kind: KindChoice}}, nil
}

// enterAborted splices the aborted path and continues the walk in aborted
// mode, where queue exhaustion does not overwrite the status.
func (e *Engine) enterAborted(ctx context.Context, userInput string) ([]Fragment, error) {
	e.setStatus(StatusAborted)
	items := e.cfg.Paths[PathAborted]
	if len(items) == 0 {
		return nil, nil
	}
	e.current = items[0]
	e.queue = items[1:]
	return e.process(ctx, userInput, false, true)
}

// optionKeys returns the option keys in deterministic order so prompts are
// stable across runs.
func optionKeys(options map[string][]*Item) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
