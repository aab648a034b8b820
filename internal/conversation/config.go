// Package conversation implements the scripted dialogue engine: a typed
// conversation graph loaded from YAML and a walker that interleaves scripted
// speech, LLM prompts, information capture, user choice, plugin calls, and
// sub-path dispatch.
package conversation

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Item type discriminator values used in the YAML `type` field.
const (
	TypeRead           = "read"
	TypePrompt         = "prompt"
	TypeInformation    = "information"
	TypeChoice         = "choice"
	TypeFunction       = "function"
	TypeFunctionChoice = "function_choice"
	TypePath           = "path"
)

// Item is one node of the conversation graph. The Type field selects which of
// the remaining fields are meaningful.
type Item struct {
	Type        string `yaml:"type"`
	Interactive bool   `yaml:"interactive,omitempty"`

	// read
	Text string `yaml:"text,omitempty"`

	// prompt
	Prompt string `yaml:"prompt,omitempty"`

	// information
	Title       string `yaml:"title,omitempty"`
	Description string `yaml:"description,omitempty"`
	Format      string `yaml:"format,omitempty"`

	// choice and function_choice
	Choice  string             `yaml:"choice,omitempty"`
	Options map[string][]*Item `yaml:"options,omitempty"`
	Silent  bool               `yaml:"silent,omitempty"`

	// function and function_choice
	Module   string `yaml:"module,omitempty"`
	Function string `yaml:"function,omitempty"`

	// path
	Path string `yaml:"path,omitempty"`
}

// Config is a full conversation document. Title doubles as the base name of
// the result and status tables, sanitised once at load time.
type Config struct {
	Title string             `yaml:"conversation_title"`
	Paths map[string][]*Item `yaml:"conversation_paths"`

	// TableName is the sanitised Title (lowercased, spaces to underscores).
	// Set by Load, not part of the YAML document.
	TableName string `yaml:"-"`
}

// Reserved path names every config must define.
const (
	PathEntry   = "entry"
	PathAborted = "aborted"
)

// SanitizeIdentifier lowercases s and replaces spaces with underscores so it
// can serve as a SQL table or column name.
func SanitizeIdentifier(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

// Load reads and validates a conversation config from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("conversation: open config: %w", err)
	}
	defer f.Close()
	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("conversation: load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a conversation config from r with strict field
// checking, then validates it.
func LoadFromReader(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.TableName = SanitizeIdentifier(cfg.Title)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the structural invariants of the conversation graph:
// reserved paths exist, no sequence ends on an interactive item, items carry
// the fields their type requires, and information titles are unique.
func (c *Config) Validate() error {
	if c.Title == "" {
		return fmt.Errorf("conversation_title must not be empty")
	}
	if len(c.Paths) == 0 {
		return fmt.Errorf("conversation_paths must not be empty")
	}
	for _, reserved := range []string{PathEntry, PathAborted} {
		if _, ok := c.Paths[reserved]; !ok {
			return fmt.Errorf("missing reserved path %q", reserved)
		}
	}

	titles := make(map[string]string)
	for name, items := range c.Paths {
		if err := c.validateSequence(fmt.Sprintf("path %q", name), items, titles); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateSequence(where string, items []*Item, titles map[string]string) error {
	for i, item := range items {
		if err := c.validateItem(fmt.Sprintf("%s item %d", where, i), item, titles); err != nil {
			return err
		}
	}
	if n := len(items); n > 0 && items[n-1].Interactive {
		return fmt.Errorf("%s: last item must not be interactive", where)
	}
	return nil
}

func (c *Config) validateItem(where string, item *Item, titles map[string]string) error {
	switch item.Type {
	case TypeRead:
		if item.Text == "" {
			return fmt.Errorf("%s: read item requires text", where)
		}
	case TypePrompt:
		if item.Prompt == "" {
			return fmt.Errorf("%s: prompt item requires prompt", where)
		}
	case TypeInformation:
		if item.Title == "" || item.Description == "" {
			return fmt.Errorf("%s: information item requires title and description", where)
		}
		col := SanitizeIdentifier(item.Title)
		if prev, dup := titles[col]; dup {
			return fmt.Errorf("%s: information title %q collides with %q after sanitising", where, item.Title, prev)
		}
		titles[col] = item.Title
	case TypeChoice:
		if item.Choice == "" {
			return fmt.Errorf("%s: choice item requires choice prompt", where)
		}
		if len(item.Options) == 0 {
			return fmt.Errorf("%s: choice item requires options", where)
		}
		for key, seq := range item.Options {
			if len(seq) == 0 {
				return fmt.Errorf("%s: option %q must not be empty", where, key)
			}
			if err := c.validateSequence(fmt.Sprintf("%s option %q", where, key), seq, titles); err != nil {
				return err
			}
		}
	case TypeFunctionChoice:
		if item.Module == "" || item.Function == "" {
			return fmt.Errorf("%s: function_choice item requires module and function", where)
		}
		if len(item.Options) == 0 {
			return fmt.Errorf("%s: function_choice item requires options", where)
		}
		for key, seq := range item.Options {
			if len(seq) == 0 {
				return fmt.Errorf("%s: option %q must not be empty", where, key)
			}
			if err := c.validateSequence(fmt.Sprintf("%s option %q", where, key), seq, titles); err != nil {
				return err
			}
		}
	case TypeFunction:
		if item.Module == "" || item.Function == "" {
			return fmt.Errorf("%s: function item requires module and function", where)
		}
	case TypePath:
		if item.Path == "" {
			return fmt.Errorf("%s: path item requires path", where)
		}
		if _, ok := c.Paths[item.Path]; !ok {
			return fmt.Errorf("%s: references unknown path %q", where, item.Path)
		}
	default:
		return fmt.Errorf("%s: unknown item type %q", where, item.Type)
	}
	return nil
}

// InformationTitles returns the sanitised column names of every information
// item in the config, in no particular order. Used to create result tables.
func (c *Config) InformationTitles() []string {
	seen := make(map[string]struct{})
	var cols []string
	var walk func(items []*Item)
	walk = func(items []*Item) {
		for _, item := range items {
			if item.Type == TypeInformation {
				col := SanitizeIdentifier(item.Title)
				if _, ok := seen[col]; !ok {
					seen[col] = struct{}{}
					cols = append(cols, col)
				}
			}
			for _, seq := range item.Options {
				walk(seq)
			}
		}
	}
	for _, items := range c.Paths {
		walk(items)
	}
	return cols
}

// Clone returns a deep copy of the config so an engine can consume its item
// queues destructively without mutating the loaded template.
func (c *Config) Clone() *Config {
	cp := &Config{
		Title:     c.Title,
		TableName: c.TableName,
		Paths:     make(map[string][]*Item, len(c.Paths)),
	}
	for name, items := range c.Paths {
		cp.Paths[name] = cloneItems(items)
	}
	return cp
}

func cloneItems(items []*Item) []*Item {
	out := make([]*Item, len(items))
	for i, item := range items {
		cp := *item
		if item.Options != nil {
			cp.Options = make(map[string][]*Item, len(item.Options))
			for key, seq := range item.Options {
				cp.Options[key] = cloneItems(seq)
			}
		}
		out[i] = &cp
	}
	return out
}
