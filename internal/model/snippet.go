// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data — similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Languages a snippet can be tagged with. The list mirrors the highlighter
// modes the UI ships with; "other" is the catch-all.
var Languages = []string{
	"javascript",
	"typescript",
	"python",
	"java",
	"csharp",
	"go",
	"rust",
	"bash",
	"powershell",
	"kql",
	"other",
}

// IsLanguage reports whether lang is one of Languages.
func IsLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Snippet represents a shared code snippet.
//
// The `json:"..."` tags tell encoding/json how to name each field on the wire.
// Tags keeps the order the author typed them in; duplicates and blanks are
// removed before a snippet is stored.
//
// Username is the owning profile's username, not the auth user ID. Only that
// user may edit or delete the snippet.
type Snippet struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	Language    string    `json:"language"`
	Tags        []string  `json:"tags"`
	Username    string    `json:"username"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasTags reports whether every tag in want is present on the snippet.
// An empty want always matches.
func (s *Snippet) HasTags(want []string) bool {
	for _, w := range want {
		found := false
		for _, t := range s.Tags {
			if t == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
