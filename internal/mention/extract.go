package mention

import (
	"regexp"
	"strings"
)

// DefaultFullMarker is the prefix that asks for an extended ticket summary, as in "!TICK-1337".
const DefaultFullMarker = "!"

// keyPattern is a tracker key: an upper-case project token of up to ten characters, a hyphen and a number.
// Jira allows underscores after the first letter of a project key, as in MY_PROJ-12.
const keyPattern = `[A-Z][A-Z0-9_]{0,9}-[0-9]+`

type Mention struct {
	Key      string
	IsFull   bool
	Position int
}

type Extractor struct {
	pattern *regexp.Regexp
}

func NewExtractor(fullMarker string) *Extractor {
	marker := strings.TrimSpace(fullMarker)
	if marker == "" {
		marker = DefaultFullMarker
	}
	return &Extractor{
		pattern: regexp.MustCompile(`(` + regexp.QuoteMeta(marker) + `)?\b(` + keyPattern + `)\b`),
	}
}

// Extract returns the ticket keys found in text in first-seen order. A key mentioned more than once is
// reported once, at its first position, and is full if any of its occurrences carried the marker.
func (e *Extractor) Extract(text string) []Mention {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	matches := e.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	mentions := make([]Mention, 0, len(matches))
	seen := make(map[string]int, len(matches))
	for _, match := range matches {
		key := text[match[4]:match[5]]
		isFull := match[2] >= 0
		if index, ok := seen[key]; ok {
			if isFull {
				mentions[index].IsFull = true
			}
			continue
		}
		seen[key] = len(mentions)
		mentions = append(mentions, Mention{
			Key:      key,
			IsFull:   isFull,
			Position: match[4],
		})
	}
	return mentions
}

// ProjectKey returns the project token of a ticket key ("TICK" for "TICK-1337").
func ProjectKey(key string) string {
	project, _, found := strings.Cut(strings.TrimSpace(key), "-")
	if !found {
		return ""
	}
	return project
}
