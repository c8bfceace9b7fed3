package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/storyloom/internal/fault"
)

func TestParseLanguage(t *testing.T) {
	for in, want := range map[string]Language{"": Polish, "pl": Polish, "EN": English, " english ": English} {
		got, err := ParseLanguage(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLanguage("de")
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestParseAudience(t *testing.T) {
	for in, want := range map[string]Audience{"child": Child, "Dziecko": Child, "adult": Adult, "dorosły": Adult} {
		got, err := ParseAudience(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAudience("teen")
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestCategories(t *testing.T) {
	assert.Len(t, Categories(Polish, Child), 7)
	assert.Len(t, Categories(Polish, Adult), 8)
	assert.Len(t, Categories(English, Child), 7)
	assert.Len(t, Categories(English, Adult), 8)

	// Callers get a copy.
	cats := Categories(Polish, Child)
	cats[0] = "changed"
	assert.Equal(t, "Baśnie i legendy", Categories(Polish, Child)[0])
}

func TestCheckCategory(t *testing.T) {
	got, err := CheckCategory(English, Adult, "  horror ")
	require.NoError(t, err)
	assert.Equal(t, "Horror", got)

	_, err = CheckCategory(English, Child, "Horror")
	assert.ErrorIs(t, err, fault.ErrValidation)

	_, err = CheckCategory(Polish, Child, "Animals and nature")
	assert.ErrorIs(t, err, fault.ErrValidation)
}

func TestPrompts(t *testing.T) {
	assert.Equal(t,
		"Napisz krótki tytuł i jednozdaniowe streszczenie na temat: kot\nFormat:\nTytuł: ...\nStreszczenie: ...",
		TitlePrompt(Polish, "kot"))
	assert.Contains(t, StoryPrompt(Polish, "kot", Child, "Baśnie i legendy"), "dla dziecka")
	assert.Contains(t, StoryPrompt(English, "cat", Adult, "Horror"), "for an adult")
	assert.Equal(t,
		"Ilustracja w stylu bajkowym do opowieści pt. 'Kot'. Krótkie streszczenie: Kot wraca.",
		IllustrationPrompt(Polish, "Kot", "Kot wraca."))
}
