package handlerenv

import (
	"fmt"
	"strings"
)

// Update is a source whose content mentions the search terms.
type Update struct {
	Site string
	URL  string
}

// Digest builds the daily notification. With no updates the message carries
// fallback instead, typically a quote of the day.
func (e Env) Digest(updates []Update, fallback string) (subject, message string) {
	terms := strings.Join(e.Terms(), ", ")
	if len(updates) == 0 {
		subject = fmt.Sprintf("No updates on %s Careers for location(s): %s!", e.MainSearchTerm, terms)
		message = fmt.Sprintf("No updates found for %s in %s location(s).... but nevertheless here your daily quote: %s",
			terms, e.MainSearchTerm, strings.TrimSpace(fallback))
		return subject, message
	}
	subject = fmt.Sprintf("%s Careers update found for %s location(s)!", e.MainSearchTerm, terms)
	parts := make([]string, 0, len(updates))
	for _, u := range updates {
		parts = append(parts, fmt.Sprintf("%s has new content mentioning %s!\n%s", u.Site, terms, u.URL))
	}
	return subject, strings.Join(parts, "\n\n")
}
