package session

import (
	"strings"
)

// ParseTitleSummary extracts the title and summary from a generator reply.
// The first line whose label matches (ignoring case and markdown emphasis)
// wins; the value is the text after the first colon, trimmed. Missing
// labels yield empty strings.
func ParseTitleSummary(lang Language, text string) (title, summary string) {
	labels := lang.Labels()
	var haveTitle, haveSummary bool

	for line := range strings.Lines(text) {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		label = strings.TrimSpace(label)
		value = strings.TrimSpace(value)
		// "**Tytuł:** ..." leaves the closing emphasis on the value side.
		if strings.HasPrefix(label, "**") {
			value = strings.TrimSpace(strings.TrimPrefix(value, "**"))
		}
		label = strings.TrimSpace(strings.Trim(label, "*#_"))

		switch {
		case !haveTitle && strings.EqualFold(label, labels.Title):
			title, haveTitle = value, true
		case !haveSummary && strings.EqualFold(label, labels.Summary):
			summary, haveSummary = value, true
		}
		if haveTitle && haveSummary {
			break
		}
	}
	return title, summary
}

// FormatTitleSummary renders the two labeled lines ParseTitleSummary reads.
func FormatTitleSummary(lang Language, title, summary string) string {
	labels := lang.Labels()
	return labels.Title + ": " + title + "\n" + labels.Summary + ": " + summary
}
