package feed

import "github.com/sakif/snippet-share/internal/model"

// UserVote is the viewer's own vote on a snippet.
type UserVote string

const (
	NoVote    UserVote = ""
	Upvoted   UserVote = "up"
	Downvoted UserVote = "down"
)

// Tally is the vote summary for one snippet.
type Tally struct {
	Up   int      `json:"upvotes"`
	Down int      `json:"downvotes"`
	Mine UserVote `json:"userVote,omitempty"`
}

// Score is upvotes minus downvotes.
func (t Tally) Score() int { return t.Up - t.Down }

// TallyVotes counts up and down votes per snippet and records viewer's own
// vote. An empty viewer never has a vote.
func TallyVotes(votes []model.Vote, viewer string) map[string]Tally {
	out := make(map[string]Tally)
	for _, v := range votes {
		t := out[v.SnippetID]
		if v.IsUpvote {
			t.Up++
		} else {
			t.Down++
		}
		if viewer != "" && v.Username == viewer {
			if v.IsUpvote {
				t.Mine = Upvoted
			} else {
				t.Mine = Downvoted
			}
		}
		out[v.SnippetID] = t
	}
	return out
}

// CountComments returns the number of comments per snippet.
func CountComments(comments []model.Comment) map[string]int {
	out := make(map[string]int)
	for _, c := range comments {
		out[c.SnippetID]++
	}
	return out
}
