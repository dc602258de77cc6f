package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/snippet-share/internal/model"
)

func ids(snippets []model.Snippet) []string {
	out := make([]string, 0, len(snippets))
	for _, s := range snippets {
		out = append(out, s.ID)
	}
	return out
}

func scenario() []model.Snippet {
	return []model.Snippet{
		{ID: "s1", Title: "HTTP server", Code: "http.ListenAndServe()", Language: "go", Tags: []string{"go"}},
		{ID: "s2", Title: "Flag parsing", Code: "flag.Parse()", Language: "go", Tags: []string{"go", "cli"}},
		{ID: "s3", Title: "List comprehension", Code: "[x for x in xs]", Language: "python", Tags: []string{"python"}},
	}
}

func TestFilter_TagThenSearchScenario(t *testing.T) {
	snippets := scenario()

	byTag := Filter(snippets, Criteria{Tags: []string{"go"}})
	assert.Equal(t, []string{"s1", "s2"}, ids(byTag))

	narrowed := Filter(snippets, Criteria{Tags: []string{"go"}, Search: "cli"})
	assert.Equal(t, []string{"s2"}, ids(narrowed))
}

func TestFilter_TagSuperset(t *testing.T) {
	snippets := []model.Snippet{
		{ID: "a", Tags: []string{"go", "cli", "http"}},
		{ID: "b", Tags: []string{"go"}},
		{ID: "c", Tags: []string{"cli"}},
		{ID: "d", Tags: []string{}},
	}

	selections := [][]string{
		nil,
		{"go"},
		{"cli"},
		{"go", "cli"},
		{"go", "cli", "http"},
		{"rust"},
	}

	for _, sel := range selections {
		got := Filter(snippets, Criteria{Tags: sel})

		var want []string
		for _, s := range snippets {
			if s.HasTags(sel) {
				want = append(want, s.ID)
			}
		}
		// Every result carries every selected tag, and nothing that does is left out.
		for _, s := range got {
			for _, tag := range sel {
				assert.Contains(t, s.Tags, tag, "selection %v", sel)
			}
		}
		assert.ElementsMatch(t, want, ids(got), "selection %v", sel)
	}
}

func TestFilter_Order(t *testing.T) {
	snippets := []model.Snippet{
		{ID: "py", Title: "json loader", Language: "python", Tags: []string{"json"}},
		{ID: "go", Title: "json decoder", Language: "go", Tags: []string{"json"}},
		{ID: "go2", Title: "yaml decoder", Language: "go", Tags: []string{"yaml"}},
	}

	got := Filter(snippets, Criteria{Language: "go", Tags: []string{"json"}, Search: "DECODER"})

	assert.Equal(t, []string{"go"}, ids(got))
}

func TestFilter_SearchFields(t *testing.T) {
	s := model.Snippet{
		ID:          "x",
		Title:       "Title Words",
		Description: "Describes Things",
		Code:        "SELECT * FROM t;",
		Tags:        []string{"Database"},
	}

	for _, term := range []string{"title", "things", "select", "database", "  WORDS  "} {
		assert.Len(t, Filter([]model.Snippet{s}, Criteria{Search: term}), 1, term)
	}
	assert.Empty(t, Filter([]model.Snippet{s}, Criteria{Search: "missing"}))
}

func TestAllTags(t *testing.T) {
	assert.Equal(t, []string{"go", "cli", "python"}, AllTags(scenario()))
}
