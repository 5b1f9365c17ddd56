package model

import "time"

// Location is a structured place reference extracted from an article.
// Latitude/Longitude are nil until the model or the geocode cascade
// resolves them.
type Location struct {
	Name      string   `json:"name"`
	Country   string   `json:"country,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Resolved reports whether the location carries coordinates.
func (l Location) Resolved() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// DisasterRecord is the extraction stage output for a relevant item.
// Produced only when the structured response passes schema validation;
// no partial records pass downstream.
type DisasterRecord struct {
	ItemID        string     `json:"item_id"`
	DisasterType  string     `json:"disaster_type"`
	Locations     []Location `json:"locations"`
	EstimatedTime *time.Time `json:"estimated_time,omitempty"`
	SeverityHint  string     `json:"severity_hint,omitempty"`
	Summary       string     `json:"summary"`
	Casualties    string     `json:"casualties,omitempty"`
	Confidence    float64    `json:"confidence"`
}

// PrimaryLocation returns the first resolved location, or the first
// location when none carries coordinates. ok is false for an empty set.
func (r DisasterRecord) PrimaryLocation() (Location, bool) {
	if len(r.Locations) == 0 {
		return Location{}, false
	}
	for _, l := range r.Locations {
		if l.Resolved() {
			return l, true
		}
	}
	return r.Locations[0], true
}
