package feed

import (
	"strings"

	"github.com/sakif/snippet-share/internal/model"
)

// Criteria narrows the feed. Zero values match everything.
type Criteria struct {
	Search   string
	Language string
	Tags     []string
}

// Filter returns the snippets matching c, keeping their order. Filters run
// in order: language, then tags (a snippet must carry every selected tag),
// then a case-insensitive substring search over title, description, code and
// tags.
func Filter(snippets []model.Snippet, c Criteria) []model.Snippet {
	search := strings.ToLower(strings.TrimSpace(c.Search))

	out := make([]model.Snippet, 0, len(snippets))
	for i := range snippets {
		s := &snippets[i]
		if c.Language != "" && s.Language != c.Language {
			continue
		}
		if !s.HasTags(c.Tags) {
			continue
		}
		if search != "" && !matches(s, search) {
			continue
		}
		out = append(out, *s)
	}
	return out
}

func matches(s *model.Snippet, term string) bool {
	if strings.Contains(strings.ToLower(s.Title), term) ||
		strings.Contains(strings.ToLower(s.Description), term) ||
		strings.Contains(strings.ToLower(s.Code), term) {
		return true
	}
	for _, t := range s.Tags {
		if strings.Contains(strings.ToLower(t), term) {
			return true
		}
	}
	return false
}

// AllTags lists every distinct tag in the feed in first-seen order, for the
// tag picker.
func AllTags(snippets []model.Snippet) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range snippets {
		for _, t := range s.Tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
