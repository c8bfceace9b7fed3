package session

import (
	"slices"
	"strings"

	"github.com/felixgeelhaar/storyloom/internal/fault"
)

// Language selects labels, prompt templates and catalog names.
type Language string

const (
	Polish  Language = "pl"
	English Language = "en"
)

// DefaultLanguage is used when none is configured.
const DefaultLanguage = Polish

// ParseLanguage accepts a language code, case-insensitively. An empty
// string yields DefaultLanguage.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultLanguage, nil
	case "pl", "polish", "polski":
		return Polish, nil
	case "en", "english":
		return English, nil
	}
	return "", fault.Validation("parse language", "unsupported language %q", s)
}

// Labels are the line prefixes the text generator is asked to use for the
// title and summary.
type Labels struct {
	Title   string
	Summary string
}

func (l Language) Labels() Labels {
	if l == English {
		return Labels{Title: "Title", Summary: "Summary"}
	}
	return Labels{Title: "Tytuł", Summary: "Streszczenie"}
}

// Audience is who a story is written for.
type Audience string

const (
	Child Audience = "child"
	Adult Audience = "adult"
)

// Audiences lists the supported audiences in display order.
var Audiences = []Audience{Child, Adult}

// ParseAudience accepts the canonical names and their Polish forms.
func ParseAudience(s string) (Audience, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "child", "kid", "dziecko":
		return Child, nil
	case "adult", "dorosły", "dorosly":
		return Adult, nil
	}
	return "", fault.Validation("parse audience", "unknown audience %q", s)
}

// Label is the audience's display name in lang.
func (a Audience) Label(lang Language) string {
	switch {
	case a == Child && lang == English:
		return "Child"
	case a == Child:
		return "Dziecko"
	case lang == English:
		return "Adult"
	default:
		return "Dorosły"
	}
}

var catalogs = map[Language]map[Audience][]string{
	Polish: {
		Child: {
			"Baśnie i legendy",
			"Przyjaźń i rodzina",
			"Przygoda i odkrywanie",
			"Nauka i edukacja",
			"Fantastyka i magia",
			"Zwierzęta i natura",
			"Rozwiązywanie problemów",
		},
		Adult: {
			"Romans",
			"Dramat i psychologia",
			"Kryminał i thriller",
			"Fantastyka i sci-fi",
			"Horror",
			"Historia i fakt",
			"Komedia i satyra",
			"Filozofia i refleksja",
		},
	},
	English: {
		Child: {
			"Fairy tales and legends",
			"Friendship and family",
			"Adventure and discovery",
			"Science and education",
			"Fantasy and magic",
			"Animals and nature",
			"Problem solving",
		},
		Adult: {
			"Romance",
			"Drama and psychology",
			"Crime and thriller",
			"Fantasy and sci-fi",
			"Horror",
			"History and fact",
			"Comedy and satire",
			"Philosophy and reflection",
		},
	},
}

// Categories returns a copy of the category catalog for an audience.
func Categories(lang Language, a Audience) []string {
	return slices.Clone(catalogs[lang][a])
}

// CheckCategory reports a validation error unless category belongs to the
// audience's catalog in lang. Matching ignores case and surrounding space.
func CheckCategory(lang Language, a Audience, category string) (string, error) {
	cats, ok := catalogs[lang][a]
	if !ok {
		return "", fault.Validation("check category", "unknown audience %q", a)
	}
	want := strings.TrimSpace(category)
	for _, c := range cats {
		if strings.EqualFold(c, want) {
			return c, nil
		}
	}
	return "", fault.Validation("check category",
		"category %q is not available for audience %s", category, a)
}

func (l Language) String() string {
	return string(l)
}

func (a Audience) String() string {
	return string(a)
}

