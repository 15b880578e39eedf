package main

import (
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"tools.zach/dev/shelfcord/internal/config"
)

// ///////////////////////////////////////////////
// sectionName Tests
// ///////////////////////////////////////////////

func TestSectionName(t *testing.T) {
	tests := []struct {
		name    string
		section string
		want    string
	}{
		{"single segment", "komga", "Komga"},
		{"last of two", "covers.imgur", "Imgur"},
		{"already capitalized", "Komga", "Komga"},
		{"single char", "a", "A"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sectionName(tt.section); got != tt.want {
				t.Errorf("sectionName(%q) = %q, want %q", tt.section, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// injectOmitted Tests
// ///////////////////////////////////////////////

func TestInjectOmittedNoSection(t *testing.T) {
	out := []string{"existing"}
	injectOmitted(&out, "", map[string]bool{})
	if len(out) != 1 {
		t.Errorf("injectOmitted with no section appended %d lines, want 0", len(out)-1)
	}
}

func TestInjectOmitted_CommentsOutOmittedField(t *testing.T) {
	var out []string
	emitted := map[string]bool{"covers.rehost": true}

	injectOmitted(&out, "covers", emitted)

	joined := strings.Join(out, "\n")
	if !strings.Contains(joined, "imgur_client_id") {
		t.Errorf("omitted field not injected:\n%s", joined)
	}
	for _, line := range out {
		if line != "" && !strings.HasPrefix(line, "#") {
			t.Errorf("injected line %q is not commented out", line)
		}
	}
	if !emitted["covers.imgur_client_id"] {
		t.Error("injected field not marked as emitted")
	}
}

// ///////////////////////////////////////////////
// annotate Tests
// ///////////////////////////////////////////////

func TestAnnotate_OutputIsValidTOML(t *testing.T) {
	var raw strings.Builder
	enc := toml.NewEncoder(&raw)
	if err := enc.Encode(config.ExampleConfig()); err != nil {
		t.Fatalf("encode: %v", err)
	}

	annotated := annotate(raw.String())

	cfg := config.DefaultConfig()
	if err := toml.Unmarshal([]byte(annotated), cfg); err != nil {
		t.Fatalf("annotated output is not valid TOML: %v\n%s", err, annotated)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("annotated config does not validate: %v", err)
	}
}

func TestAnnotate_DocumentsEveryField(t *testing.T) {
	var raw strings.Builder
	enc := toml.NewEncoder(&raw)
	if err := enc.Encode(config.ExampleConfig()); err != nil {
		t.Fatalf("encode: %v", err)
	}

	annotated := annotate(raw.String())

	// Every documented key should appear, active or commented out.
	for path := range config.ConfigDocs {
		parts := strings.Split(path, ".")
		key := parts[len(parts)-1]
		if !strings.Contains(annotated, key) {
			t.Errorf("annotated output missing documented key %q", path)
		}
	}

	if !strings.HasPrefix(annotated, "# ///////") {
		t.Error("annotated output missing file header")
	}
	if !strings.HasSuffix(annotated, "\n") {
		t.Error("annotated output missing trailing newline")
	}
}
