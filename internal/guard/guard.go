package guard

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy defines the input limits for a story session.
type Policy struct {
	MaxTopicLength     int      `json:"max_topic_length"`
	MaxRerolls         int      `json:"max_rerolls"`
	AllowedExportGlobs []string `json:"allowed_export_globs"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	MaxTopicLength:     500,
	MaxRerolls:         5,
	AllowedExportGlobs: []string{"*.txt", "*.png"},
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
}

func (v *Violation) String() string {
	return v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckTopic rejects blank topics and topics longer than MaxTopicLength
// runes. A zero limit disables the length check.
func (g *Guard) CheckTopic(topic string) *Violation {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return &Violation{Rule: "topic_required", Message: "topic must not be empty"}
	}
	if g.policy.MaxTopicLength > 0 && utf8.RuneCountInString(topic) > g.policy.MaxTopicLength {
		return &Violation{
			Rule:    "max_topic_length",
			Message: fmt.Sprintf("topic is longer than %d characters", g.policy.MaxTopicLength),
		}
	}
	return nil
}

// CheckRerolls bounds how many title proposals a brief may reject.
func (g *Guard) CheckRerolls(n int) *Violation {
	if n < 0 {
		return &Violation{Rule: "max_rerolls", Message: "rerolls must not be negative"}
	}
	if n > g.policy.MaxRerolls {
		return &Violation{
			Rule:    "max_rerolls",
			Message: fmt.Sprintf("at most %d rerolls allowed, got %d", g.policy.MaxRerolls, n),
		}
	}
	return nil
}

// CheckExportName verifies that an artifact file name is a bare name
// matching one of the allowed globs.
func (g *Guard) CheckExportName(name string) *Violation {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return &Violation{Rule: "allowed_export_globs", Message: "invalid export name: " + name}
	}

	for _, pattern := range g.policy.AllowedExportGlobs {
		match, err := doublestar.Match(pattern, name)
		if err == nil && match {
			return nil
		}
	}
	return &Violation{Rule: "allowed_export_globs", Message: "export not allowed: " + name}
}
