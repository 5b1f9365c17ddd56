package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractHints_Locations(t *testing.T) {
	text := "Flooding was reported in Port-au-Prince and near Cap Haitien on Monday."
	hints := ExtractHints(text)

	assert.Contains(t, hints.Locations, "Port-au-Prince")
	assert.Contains(t, hints.Locations, "Cap Haitien")
	assert.NotContains(t, hints.Locations, "Monday")
}

func TestExtractHints_Dates(t *testing.T) {
	text := "The quake struck on 2026-08-20, aftershocks continued through August 22."
	hints := ExtractHints(text)

	assert.Contains(t, hints.Dates, "2026-08-20")
	assert.Contains(t, hints.Dates, "August 22")
}

func TestExtractHints_Events(t *testing.T) {
	text := "A wildfire and subsequent landslide displaced thousands."
	hints := ExtractHints(text)

	assert.Contains(t, hints.Events, "wildfire")
	assert.Contains(t, hints.Events, "landslide")
	assert.NotContains(t, hints.Events, "tsunami")
}

func TestExtractHints_Dedupes(t *testing.T) {
	text := "Rescuers in Valencia said the situation in Valencia remains dire."
	hints := ExtractHints(text)

	count := 0
	for _, l := range hints.Locations {
		if l == "Valencia" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtractHints_Empty(t *testing.T) {
	hints := ExtractHints("nothing notable here")
	assert.Empty(t, hints.Locations)
	assert.Empty(t, hints.Dates)
	assert.Empty(t, hints.Events)
}
