package preprocess

import (
	"regexp"
	"strings"

	"github.com/terrawatch/eo-analyzer/internal/model"
)

// Heuristic entity extraction. These hints are advisory context for the
// extraction prompt, not authoritative fields; the model is free to
// disagree with them.

var (
	// "in Valencia", "near Port-au-Prince", "across southern Luzon"
	locationRe = regexp.MustCompile(`\b(?:in|near|across|around|outside|at)\s+((?:[A-Z][a-zA-Z'-]+)(?:\s+(?:[A-Z][a-zA-Z'-]+|of|de|la|el|al))*)`)

	// "January 12", "12 January 2026", "2026-01-12"
	dateRe = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,?\s+\d{4})?|\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)(?:\s+\d{4})?)\b`)
)

var eventTerms = []string{
	"earthquake", "aftershock", "tsunami",
	"flood", "flooding", "flash flood",
	"wildfire", "bushfire", "forest fire",
	"hurricane", "typhoon", "cyclone", "storm surge",
	"tornado", "landslide", "mudslide",
	"volcano", "eruption", "lava",
	"drought", "heatwave",
	"avalanche", "blizzard",
}

// stopwords that the location pattern tends to capture but never name
// a place on their own.
var locationStopwords = map[string]bool{
	"The": true, "A": true, "An": true, "Monday": true, "Tuesday": true,
	"Wednesday": true, "Thursday": true, "Friday": true, "Saturday": true,
	"Sunday": true, "January": true, "February": true, "March": true,
	"April": true, "May": true, "June": true, "July": true, "August": true,
	"September": true, "October": true, "November": true, "December": true,
}

// ExtractHints pulls candidate locations, dates, and event terms out of
// cleaned text.
func ExtractHints(text string) model.EntityHints {
	return model.EntityHints{
		Locations: extractLocations(text),
		Dates:     dedupe(dateRe.FindAllString(text, 8)),
		Events:    extractEvents(text),
	}
}

func extractLocations(text string) []string {
	var out []string
	for _, m := range locationRe.FindAllStringSubmatch(text, 12) {
		candidate := strings.TrimSpace(m[1])
		if candidate == "" || locationStopwords[candidate] {
			continue
		}
		out = append(out, candidate)
	}
	return dedupe(out)
}

func extractEvents(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, term := range eventTerms {
		if strings.Contains(lower, term) {
			out = append(out, term)
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
