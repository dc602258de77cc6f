package model

import "time"

// Comment is a text reply attached to a snippet.
type Comment struct {
	ID        string    `json:"id"`
	SnippetID string    `json:"snippetId"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
