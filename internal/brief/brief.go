// Package brief loads the YAML or JSON files that drive a non-interactive
// story run.
package brief

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/storyloom/internal/guard"
	"github.com/felixgeelhaar/storyloom/internal/session"
)

// Brief describes one story to generate without prompting.
type Brief struct {
	Topic      string `json:"topic" yaml:"topic"`
	Audience   string `json:"audience" yaml:"audience"`
	Category   string `json:"category" yaml:"category"`
	Language   string `json:"language,omitempty" yaml:"language,omitempty"`
	Rerolls    int    `json:"rerolls,omitempty" yaml:"rerolls,omitempty"`
	Illustrate bool   `json:"illustrate,omitempty" yaml:"illustrate,omitempty"`
}

// ValidationResult represents the outcome of a linting pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Load reads a brief from a .yaml, .yml or .json file.
func Load(path string) (*Brief, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read brief: %w", err)
	}

	var b Brief
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON brief: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML brief: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported brief format: %s (use .json or .yaml)", ext)
	}

	return &b, nil
}

// Validate checks the brief against the guard policy and the category
// catalog. fallback is the language used when the brief names none.
func Validate(b Brief, g *guard.Guard, fallback session.Language) ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}
	fail := func(msg string) {
		res.Valid = false
		res.Errors = append(res.Errors, msg)
	}

	if v := g.CheckTopic(b.Topic); v != nil {
		fail(v.Message)
	} else if utf8.RuneCountInString(strings.TrimSpace(b.Topic)) < 10 {
		res.Warnings = append(res.Warnings, "Topic is very short; the proposal may be generic")
	}

	lang := fallback
	if b.Language != "" {
		l, err := session.ParseLanguage(b.Language)
		if err != nil {
			fail(fmt.Sprintf("unsupported language %q", b.Language))
		}
		lang = l
	}

	audience, err := session.ParseAudience(b.Audience)
	switch {
	case b.Audience == "":
		fail("audience is required (child or adult)")
	case err != nil:
		fail(fmt.Sprintf("unknown audience %q", b.Audience))
	case b.Category == "":
		fail("category is required")
	case lang != "":
		if _, err := session.CheckCategory(lang, audience, b.Category); err != nil {
			fail(fmt.Sprintf("category %q is not available for %s; choose one of: %s",
				b.Category, audience, strings.Join(session.Categories(lang, audience), ", ")))
		}
	}

	if v := g.CheckRerolls(b.Rerolls); v != nil {
		fail(v.Message)
	}

	return res
}
