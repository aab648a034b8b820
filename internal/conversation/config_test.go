package conversation

import (
	"strings"
	"testing"
)

const sampleYAML = `
conversation_title: Customer Survey
conversation_paths:
  entry:
    - type: read
      text: Hello there
      interactive: true
    - type: information
      title: Name
      description: the caller's name
      format: text
      interactive: true
    - type: choice
      choice: coffee or tea?
      interactive: true
      options:
        coffee:
          - type: read
            text: Great choice
        tea:
          - type: path
            path: tea_path
    - type: read
      text: Goodbye
  tea_path:
    - type: read
      text: Tea it is
  aborted:
    - type: read
      text: Sorry, goodbye
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}

	if cfg.Title != "Customer Survey" {
		t.Errorf("Title = %q, want %q", cfg.Title, "Customer Survey")
	}
	if cfg.TableName != "customer_survey" {
		t.Errorf("TableName = %q, want %q", cfg.TableName, "customer_survey")
	}
	if got := len(cfg.Paths["entry"]); got != 4 {
		t.Errorf("entry has %d items, want 4", got)
	}
	choice := cfg.Paths["entry"][2]
	if choice.Type != TypeChoice || len(choice.Options) != 2 {
		t.Errorf("unexpected choice item: %+v", choice)
	}
	if tea := choice.Options["tea"]; len(tea) != 1 || tea[0].Path != "tea_path" {
		t.Errorf("unexpected tea option: %+v", tea)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	const doc = `
conversation_title: X
conversation_paths:
  entry:
    - type: read
      text: hi
      unexpected_field: true
  aborted:
    - type: read
      text: bye
`
	if _, err := LoadFromReader(strings.NewReader(doc)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing aborted path",
			mutate:  func(c *Config) { delete(c.Paths, "aborted") },
			wantErr: "aborted",
		},
		{
			name:    "missing entry path",
			mutate:  func(c *Config) { delete(c.Paths, "entry") },
			wantErr: "entry",
		},
		{
			name: "interactive last item",
			mutate: func(c *Config) {
				items := c.Paths["entry"]
				items[len(items)-1].Interactive = true
			},
			wantErr: "must not be interactive",
		},
		{
			name: "interactive last item in option sequence",
			mutate: func(c *Config) {
				opt := c.Paths["entry"][2].Options["coffee"]
				opt[len(opt)-1].Interactive = true
			},
			wantErr: "must not be interactive",
		},
		{
			name: "duplicate information title after sanitising",
			mutate: func(c *Config) {
				c.Paths["tea_path"] = append(c.Paths["tea_path"], &Item{
					Type:        TypeInformation,
					Title:       "name",
					Description: "duplicate",
				})
			},
			wantErr: "collides",
		},
		{
			name: "unknown path reference",
			mutate: func(c *Config) {
				c.Paths["entry"][2].Options["tea"][0].Path = "no_such_path"
			},
			wantErr: "unknown path",
		},
		{
			name: "read without text",
			mutate: func(c *Config) {
				c.Paths["tea_path"][0].Text = ""
			},
			wantErr: "requires text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
			if err != nil {
				t.Fatalf("LoadFromReader failed: %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestInformationTitles(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	titles := cfg.InformationTitles()
	if len(titles) != 1 || titles[0] != "name" {
		t.Errorf("InformationTitles = %v, want [name]", titles)
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}

	cp := cfg.Clone()
	cp.Paths["entry"][0].Text = "mutated"
	cp.Paths["entry"][2].Options["coffee"][0].Text = "mutated option"

	if cfg.Paths["entry"][0].Text != "Hello there" {
		t.Error("clone shares top-level items with the original")
	}
	if cfg.Paths["entry"][2].Options["coffee"][0].Text != "Great choice" {
		t.Error("clone shares option sub-sequences with the original")
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Customer Survey", "customer_survey"},
		{"name", "name"},
		{"Full Name Of Caller", "full_name_of_caller"},
	}
	for _, tt := range tests {
		if got := SanitizeIdentifier(tt.in); got != tt.want {
			t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
