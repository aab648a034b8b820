package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/callyard/callyard/pkg/provider/llm"
	llmmock "github.com/callyard/callyard/pkg/provider/llm/mock"
)

// fakeSession is a no-op Session for engine tests.
type fakeSession struct {
	played []string
}

func (s *fakeSession) Say(context.Context, string, bool) error { return nil }
func (s *fakeSession) PlayAudio(_ context.Context, path string, _ bool) error {
	s.played = append(s.played, path)
	return nil
}
func (s *fakeSession) StopAudio() {}
func (s *fakeSession) Forward(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}
func (s *fakeSession) HasPickedUpCall() bool { return true }
func (s *fakeSession) IsForwarded() bool     { return false }

// surveyConfig is the three-item happy-path conversation: greeting, name
// capture, closing line.
func surveyConfig() *Config {
	return &Config{
		Title:     "Survey",
		TableName: "survey",
		Paths: map[string][]*Item{
			"entry": {
				{Type: TypeRead, Text: "Hi", Interactive: true},
				{Type: TypeInformation, Title: "name", Description: "the caller's name", Format: "text", Interactive: true},
				{Type: TypeRead, Text: "Thanks"},
			},
			"aborted": {
				{Type: TypeRead, Text: "Sorry, goodbye"},
			},
		},
	}
}

func fragmentTexts(frags []Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Text
	}
	return out
}

func TestEngineHappyPath(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Responses: []string{"YES", "Max"}}
	eng, err := NewEngine(surveyConfig(), provider, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	// Opening step: scripted greeting, then suspend at the information item.
	frags, err := eng.Step(context.Background(), "")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(frags) != 1 || frags[0].Text != "Hi\n" || frags[0].Kind != KindRead {
		t.Fatalf("opening fragments = %+v, want [{Hi\\n read}]", frags)
	}
	if provider.CallCount() != 0 {
		t.Errorf("opening step made %d LLM calls, want 0", provider.CallCount())
	}

	// The caller names themselves: verification passes, the walk continues.
	frags, err = eng.Step(context.Background(), "I am Max")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(frags) != 1 || frags[0].Text != "Thanks\n" || frags[0].Kind != KindRead {
		t.Fatalf("closing fragments = %+v, want [{Thanks\\n read}]", frags)
	}
	if got := eng.Status(); got != StatusCompleted {
		t.Errorf("Status = %v, want COMPLETED", got)
	}

	eng.Wait()
	info := eng.Information()
	if v, ok := info["name"]; !ok || v == nil || *v != "Max" {
		t.Errorf("Information = %v, want name=Max", info)
	}
}

func TestEngineElicitation(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Responses: []string{"NO", "What is your name?"}}
	eng, err := NewEngine(surveyConfig(), provider, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if _, err := eng.Step(context.Background(), ""); err != nil {
		t.Fatalf("opening step failed: %v", err)
	}

	frags, err := eng.Step(context.Background(), "tell me a joke")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(frags) != 1 || frags[0].Kind != KindInformation || frags[0].Text != "What is your name?" {
		t.Fatalf("fragments = %+v, want one information fragment", frags)
	}
	if got := eng.Status(); got != StatusInProgress {
		t.Errorf("Status = %v, want IN_PROGRESS", got)
	}
	if info := eng.Information(); len(info) != 0 {
		t.Errorf("Information = %v, want empty", info)
	}
}

func TestEngineAbort(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Responses: []string{"ABORT"}}
	eng, err := NewEngine(surveyConfig(), provider, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if _, err := eng.Step(context.Background(), ""); err != nil {
		t.Fatalf("opening step failed: %v", err)
	}

	frags, err := eng.Step(context.Background(), "leave me alone")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(frags) != 1 || frags[0].Text != "Sorry, goodbye\n" || frags[0].Kind != KindRead {
		t.Fatalf("fragments = %+v, want the aborted path utterance", frags)
	}
	if got := eng.Status(); got != StatusAborted {
		t.Errorf("Status = %v, want ABORTED", got)
	}

	// Terminal status is sticky: further steps are no-ops.
	frags, err = eng.Step(context.Background(), "hello?")
	if err != nil {
		t.Fatalf("Step after abort failed: %v", err)
	}
	if len(frags) != 0 {
		t.Errorf("Step after abort returned %+v, want empty", frags)
	}
	if got := eng.Status(); got != StatusAborted {
		t.Errorf("Status after extra step = %v, want ABORTED", got)
	}
}

func TestEngineChoice(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Title: "Drinks",
		Paths: map[string][]*Item{
			"entry": {
				{
					Type:   TypeChoice,
					Choice: "coffee or tea?",
					Options: map[string][]*Item{
						"coffee": {{Type: TypeRead, Text: "Enjoy your coffee"}},
						"tea":    {{Type: TypeRead, Text: "Enjoy your tea"}},
					},
				},
			},
			"aborted": {{Type: TypeRead, Text: "Sorry, goodbye"}},
		},
	}

	provider := &llmmock.Provider{Responses: []string{"tea"}}
	eng, err := NewEngine(cfg, provider, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	frags, err := eng.Step(context.Background(), "I'd like tea please")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(frags) != 1 || frags[0].Text != "Enjoy your tea\n" || frags[0].Kind != KindRead {
		t.Fatalf("fragments = %+v, want the tea option utterance", frags)
	}
	if got := eng.Status(); got != StatusCompleted {
		t.Errorf("Status = %v, want COMPLETED", got)
	}
}

func TestEngineChoiceClassifierOffScript(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Title: "Drinks",
		Paths: map[string][]*Item{
			"entry": {
				{
					Type:   TypeChoice,
					Choice: "coffee or tea?",
					Options: map[string][]*Item{
						"coffee": {{Type: TypeRead, Text: "Enjoy"}},
						"tea":    {{Type: TypeRead, Text: "Enjoy"}},
					},
				},
			},
			"aborted": {{Type: TypeRead, Text: "Bye"}},
		},
	}

	// Classifier invents an option that does not exist; the engine re-asks
	// instead of failing the call.
	provider := &llmmock.Provider{Responses: []string{"espresso", "Coffee or tea, which would you like?"}}
	eng, err := NewEngine(cfg, provider, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	frags, err := eng.Step(context.Background(), "an espresso please")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(frags) != 1 || frags[0].Kind != KindChoice {
		t.Fatalf("fragments = %+v, want one choice elicitation fragment", frags)
	}
	if got := eng.Status(); got != StatusInProgress {
		t.Errorf("Status = %v, want IN_PROGRESS", got)
	}
}

func TestEnginePathSplice(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Title: "Spliced",
		Paths: map[string][]*Item{
			"entry": {
				{Type: TypeRead, Text: "A"},
				{Type: TypePath, Path: "second"},
			},
			"second": {
				{Type: TypeRead, Text: "B"},
			},
			"aborted": {{Type: TypeRead, Text: "Bye"}},
		},
	}

	eng, err := NewEngine(cfg, &llmmock.Provider{}, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	frags, err := eng.Step(context.Background(), "")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	got := fragmentTexts(frags)
	if len(got) != 2 || got[0] != "A\n" || got[1] != "B\n" {
		t.Fatalf("fragments = %v, want [A\\n B\\n]", got)
	}
	if eng.Status() != StatusCompleted {
		t.Errorf("Status = %v, want COMPLETED", eng.Status())
	}
}

func TestEnginePromptItem(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Title: "Prompted",
		Paths: map[string][]*Item{
			"entry": {
				{Type: TypePrompt, Prompt: "Greet the caller warmly."},
			},
			"aborted": {{Type: TypeRead, Text: "Bye"}},
		},
	}

	provider := &llmmock.Provider{Responses: []string{"Good morning!"}}
	eng, err := NewEngine(cfg, provider, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	frags, err := eng.Step(context.Background(), "")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(frags) != 1 || frags[0].Text != "Good morning!\n" || frags[0].Kind != KindPrompt {
		t.Fatalf("fragments = %+v, want [{Good morning!\\n prompt}]", frags)
	}

	req := provider.Calls[0].Req
	if len(req.SystemPrompts) != 1 || req.SystemPrompts[0] != "Greet the caller warmly." {
		t.Errorf("prompt request system prompts = %v", req.SystemPrompts)
	}
}

func TestEngineFunctionItems(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Title: "Plugins",
		Paths: map[string][]*Item{
			"entry": {
				{Type: TypeFunction, Module: "demo", Function: "speak"},
				{
					Type:     TypeFunctionChoice,
					Module:   "demo",
					Function: "pick",
					Options: map[string][]*Item{
						"left":  {{Type: TypeRead, Text: "Went left"}},
						"right": {{Type: TypeRead, Text: "Went right"}},
					},
				},
			},
			"aborted": {{Type: TypeRead, Text: "Bye"}},
		},
	}

	reg := NewRegistry()
	reg.Register("demo", "speak", func(_ context.Context, _ map[string]*string, _ Session) (string, error) {
		return "plugin says hi", nil
	})
	reg.Register("demo", "pick", func(_ context.Context, _ map[string]*string, _ Session) (string, error) {
		return "right", nil
	})

	eng, err := NewEngine(cfg, &llmmock.Provider{}, &fakeSession{}, WithRegistry(reg))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	frags, err := eng.Step(context.Background(), "")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	got := fragmentTexts(frags)
	if len(got) != 2 || got[0] != "plugin says hi" || got[1] != "Went right\n" {
		t.Fatalf("fragments = %v, want [plugin says hi, Went right\\n]", got)
	}
	if frags[0].Kind != KindFunction {
		t.Errorf("first fragment kind = %v, want function", frags[0].Kind)
	}
	if eng.Status() != StatusCompleted {
		t.Errorf("Status = %v, want COMPLETED", eng.Status())
	}
}

// slowFilterProvider verifies instantly but takes filterDelay to produce the
// filtered value, like a real backend under load.
type slowFilterProvider struct {
	filterDelay time.Duration
	value       string
}

func (p *slowFilterProvider) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	if len(req.SystemPrompts) > 0 && req.SystemPrompts[0] == filterInformationPrompt {
		time.Sleep(p.filterDelay)
		return p.value, nil
	}
	return "YES", nil
}

func TestEngineFunctionWaitsForFilter(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Title: "Plugins",
		Paths: map[string][]*Item{
			"entry": {
				{Type: TypeRead, Text: "Hi", Interactive: true},
				{Type: TypeInformation, Title: "name", Description: "the caller's name", Format: "text", Interactive: false},
				{Type: TypeFunction, Module: "demo", Function: "greet"},
			},
			"aborted": {{Type: TypeRead, Text: "Bye"}},
		},
	}

	reg := NewRegistry()
	reg.Register("demo", "greet", func(_ context.Context, info map[string]*string, _ Session) (string, error) {
		v, ok := info["name"]
		if !ok || v == nil {
			return "", errors.New("name not extracted yet")
		}
		return "Hello " + *v, nil
	})

	// The function item runs right after the information item, while the
	// filter task is still in flight. Its snapshot must contain the value.
	provider := &slowFilterProvider{filterDelay: 200 * time.Millisecond, value: "Max"}
	eng, err := NewEngine(cfg, provider, &fakeSession{}, WithRegistry(reg))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if _, err := eng.Step(context.Background(), ""); err != nil {
		t.Fatalf("opening step failed: %v", err)
	}
	frags, err := eng.Step(context.Background(), "I am Max")
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if len(frags) != 1 || frags[0].Text != "Hello Max" || frags[0].Kind != KindFunction {
		t.Fatalf("fragments = %+v, want [{Hello Max function}]", frags)
	}
}

func TestEngineFunctionWithoutRegistry(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Title: "Plugins",
		Paths: map[string][]*Item{
			"entry":   {{Type: TypeFunction, Module: "demo", Function: "speak"}},
			"aborted": {{Type: TypeRead, Text: "Bye"}},
		},
	}

	eng, err := NewEngine(cfg, &llmmock.Provider{}, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if _, err := eng.Step(context.Background(), ""); err == nil {
		t.Fatal("expected error for missing registry, got nil")
	}
}

func TestEngineLLMError(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{Err: errors.New("backend down")}
	eng, err := NewEngine(surveyConfig(), provider, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if _, err := eng.Step(context.Background(), ""); err != nil {
		t.Fatalf("opening step failed: %v", err)
	}
	if _, err := eng.Step(context.Background(), "I am Max"); err == nil {
		t.Fatal("expected error from failing provider, got nil")
	}
}

func TestEngineDoesNotMutateTemplate(t *testing.T) {
	t.Parallel()

	cfg := surveyConfig()
	provider := &llmmock.Provider{Responses: []string{"YES", "Max"}}
	eng, err := NewEngine(cfg, provider, &fakeSession{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if _, err := eng.Step(context.Background(), ""); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if _, err := eng.Step(context.Background(), "I am Max"); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// The template config must survive a full conversation untouched.
	if got := len(cfg.Paths["entry"]); got != 3 {
		t.Errorf("template entry path has %d items after a run, want 3", got)
	}
}
