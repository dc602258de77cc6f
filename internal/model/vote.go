package model

import "time"

// Vote is one user's up or down vote on a snippet.
// (SnippetID, Username) is the primary key, so a user holds at most one vote
// per snippet; changing polarity overwrites the row.
type Vote struct {
	SnippetID string    `json:"snippetId"`
	Username  string    `json:"username"`
	IsUpvote  bool      `json:"isUpvote"`
	CreatedAt time.Time `json:"createdAt"`
}
