package session

import "fmt"

// Sampling parameters per prompt kind.
const (
	TitleTemperature float32 = 0.7
	TitleMaxTokens           = 150
	StoryTemperature float32 = 0.8
	StoryMaxTokens           = 700
)

// TitlePrompt asks for a short title and a one-sentence summary on two
// labeled lines.
func TitlePrompt(lang Language, topic string) string {
	l := lang.Labels()
	if lang == English {
		return fmt.Sprintf("Write a short title and a one-sentence summary on the topic: %s\n"+
			"Format:\n%s: ...\n%s: ...", topic, l.Title, l.Summary)
	}
	return fmt.Sprintf("Napisz krótki tytuł i jednozdaniowe streszczenie na temat: %s\n"+
		"Format:\n%s: ...\n%s: ...", topic, l.Title, l.Summary)
}

// StoryPrompt asks for a complete narrative for the audience and category.
func StoryPrompt(lang Language, topic string, audience Audience, category string) string {
	if lang == English {
		reader := "an adult"
		if audience == Child {
			reader = "a child"
		}
		return fmt.Sprintf("Write a story for %s on the topic '%s', category: %s. "+
			"The story must have a clear beginning, middle and end.", reader, topic, category)
	}
	reader := "dorosłego"
	if audience == Child {
		reader = "dziecka"
	}
	return fmt.Sprintf("Napisz opowieść dla %s na temat '%s', kategoria: %s. "+
		"Opowieść powinna mieć wyraźny początek, rozwinięcie i zakończenie.", reader, topic, category)
}

// IllustrationPrompt describes a fairy-tale style picture for the story.
func IllustrationPrompt(lang Language, title, summary string) string {
	if lang == English {
		return fmt.Sprintf("Fairy-tale style illustration for the story titled '%s'. Short summary: %s",
			title, summary)
	}
	return fmt.Sprintf("Ilustracja w stylu bajkowym do opowieści pt. '%s'. Krótkie streszczenie: %s",
		title, summary)
}
