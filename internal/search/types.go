package search

import "time"

// Query describes a search request against the document corpus
type Query struct {
	Text      string            `json:"text"`
	Embedding []float32         `json:"embedding,omitempty"`
	TopK      int               `json:"top_k"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// Result is a single retrieved document
type Result struct {
	ID      string  `json:"id"`
	Title   string  `json:"title,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
}

// Response is the outcome of a search, including which provider served
// it so callers can tell primary results from degraded ones.
type Response struct {
	Results  []Result      `json:"results"`
	Provider string        `json:"provider"`
	Took     time.Duration `json:"took"`
	Degraded bool          `json:"degraded"`
}

// Document is a corpus entry held by the in-memory and Postgres stores
type Document struct {
	ID      string `json:"id" db:"id"`
	Title   string `json:"title" db:"title"`
	Content string `json:"content" db:"content"`
	Source  string `json:"source" db:"source"`
}

const defaultTopK = 5

// Normalize fills query defaults
func (q *Query) Normalize() {
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
}
