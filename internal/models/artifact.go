package models

import "time"

// Artifact represents a single cached encoded-audio file. Its retention clock
// is the file's modification time; ExpiresAt is derived from it at read time
// and never persisted.
type Artifact struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	Title           string    `json:"title,omitempty"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds *float64  `json:"duration_seconds,omitempty"`
	BitrateKbps     *int      `json:"bitrate_kbps,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// SearchResult is one catalog entry returned by a search query.
type SearchResult struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}
