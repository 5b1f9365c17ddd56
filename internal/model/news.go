package model

import "time"

// NewsItem is a single article as returned by the news provider.
// Immutable once fetched.
type NewsItem struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Title        string    `json:"title"`
	Link         string    `json:"link"`
	PublishedAt  time.Time `json:"published_at"`
	RawText      string    `json:"raw_text"`
	LocationHint string    `json:"location_hint,omitempty"`
}

// EntityHints are heuristic entities pulled from the article text and
// injected into the extraction prompt as advisory context.
type EntityHints struct {
	Locations []string `json:"locations,omitempty"`
	Dates     []string `json:"dates,omitempty"`
	Events    []string `json:"events,omitempty"`
}

// CleanedItem is the normalized form of a NewsItem, derived 1:1 and
// owned by the pipeline run.
type CleanedItem struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	NormalizedText string      `json:"normalized_text"`
	Hints          EntityHints `json:"hints"`
}

// RelevanceVerdict is the filter stage output for one item.
// Confidence is always within [0,1].
type RelevanceVerdict struct {
	ItemID     string  `json:"item_id"`
	IsRelevant bool    `json:"is_relevant"`
	Confidence float64 `json:"confidence"`
}
