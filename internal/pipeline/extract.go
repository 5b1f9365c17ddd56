package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/internal/resilience"
	"github.com/terrawatch/eo-analyzer/pkg/anthropic"
)

const extractSystemText = `You are an analyst extracting structured disaster event data from news articles. Return a valid JSON object with exactly these fields:
{
  "disaster_type": "<one of: %s>",
  "locations": [{"name": "<place>", "country": "<country or empty>", "latitude": <number or null>, "longitude": <number or null>}],
  "summary": "<1-2 sentence factual summary>",
  "event_date": "<ISO 8601 date or empty if unknown>",
  "severity": "<brief severity note or empty>",
  "casualties": "<reported casualties or empty>",
  "confidence": <0.0-1.0>
}
Use null coordinates unless the article states them. Do not invent locations.`

const extractUserPrompt = `Title: %s

Article text:
%s
%s
Extract the disaster event described above.`

const extractMaxTokens = 1024

// extractStage runs structured extraction over relevant items. Items
// whose extraction fails validation are recorded with the reason and
// excluded from the returned records.
func (p *Pipeline) extractStage(ctx context.Context, items []model.CleanedItem, result *model.RunResult) ([]model.DisasterRecord, error) {
	systemText := fmt.Sprintf(extractSystemText, strings.Join(p.registry.TypeNames(), ", "))
	systemBlocks := anthropic.CachedSystemBlocks(systemText)

	requests := make([]anthropic.BatchRequestItem, len(items))
	for i, item := range items {
		requests[i] = anthropic.BatchRequestItem{
			CustomID: "extract-" + item.ID,
			Params: anthropic.MessageRequest{
				Model:     p.cfg.Anthropic.ExtractModel,
				MaxTokens: extractMaxTokens,
				System:    systemBlocks,
				Messages: []anthropic.Message{
					{Role: "user", Content: fmt.Sprintf(extractUserPrompt, item.Title, item.NormalizedText, formatHints(item.Hints))},
				},
			},
		}
	}

	responses, err := p.execRequests(ctx, requests, p.cfg.Pipeline.ExtractConcurrency)
	if err != nil {
		return nil, err
	}

	var records []model.DisasterRecord
	for _, item := range items {
		resp, ok := responses["extract-"+item.ID]
		if !ok || resp == nil {
			recordOutcome(result, item.ID, model.ItemExtractionFailed, "extraction call failed")
			continue
		}

		record, parseErr := p.parseRecord(anthropic.Text(resp), item.ID)
		if parseErr != nil {
			zap.L().Warn("pipeline: extraction rejected",
				zap.String("item_id", item.ID),
				zap.Error(parseErr),
			)
			recordOutcome(result, item.ID, model.ItemExtractionFailed, parseErr.Error())
			continue
		}
		records = append(records, *record)
	}

	return records, nil
}

// formatHints renders entity hints as an advisory context block for the
// extraction prompt. Returns "" when there are no hints.
func formatHints(h model.EntityHints) string {
	if len(h.Locations) == 0 && len(h.Dates) == 0 && len(h.Events) == 0 {
		return "\n"
	}
	var b strings.Builder
	b.WriteString("\n--- Detected entities (advisory, verify against the text) ---\n")
	if len(h.Locations) > 0 {
		b.WriteString("Locations: " + strings.Join(h.Locations, ", ") + "\n")
	}
	if len(h.Dates) > 0 {
		b.WriteString("Dates: " + strings.Join(h.Dates, ", ") + "\n")
	}
	if len(h.Events) > 0 {
		b.WriteString("Event terms: " + strings.Join(h.Events, ", ") + "\n")
	}
	return b.String()
}

// rawRecord mirrors the extraction schema before validation.
type rawRecord struct {
	DisasterType string `json:"disaster_type"`
	Locations    []struct {
		Name      string   `json:"name"`
		Country   string   `json:"country"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"locations"`
	Summary    string  `json:"summary"`
	EventDate  string  `json:"event_date"`
	Severity   string  `json:"severity"`
	Casualties string  `json:"casualties"`
	Confidence float64 `json:"confidence"`
}

// parseRecord validates the extraction reply against the schema. Any
// violation returns a SchemaValidationError naming the offending field.
func (p *Pipeline) parseRecord(text, itemID string) (*model.DisasterRecord, error) {
	cleaned := cleanJSON(text)

	var raw rawRecord
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, &resilience.SchemaValidationError{
			ItemID: itemID,
			Field:  "json",
			Reason: "reply is not a valid JSON object",
		}
	}

	if strings.TrimSpace(raw.DisasterType) == "" {
		return nil, &resilience.SchemaValidationError{
			ItemID: itemID,
			Field:  "disaster_type",
			Reason: "missing",
		}
	}
	if len(raw.Locations) == 0 {
		return nil, &resilience.SchemaValidationError{
			ItemID: itemID,
			Field:  "locations",
			Reason: "empty",
		}
	}

	record := &model.DisasterRecord{
		ItemID:       itemID,
		DisasterType: p.registry.Canonical(raw.DisasterType),
		Summary:      strings.TrimSpace(raw.Summary),
		SeverityHint: strings.TrimSpace(raw.Severity),
		Casualties:   strings.TrimSpace(raw.Casualties),
		Confidence:   clampConfidence(raw.Confidence),
	}

	for _, loc := range raw.Locations {
		name := strings.TrimSpace(loc.Name)
		if name == "" {
			continue
		}
		record.Locations = append(record.Locations, model.Location{
			Name:      name,
			Country:   strings.TrimSpace(loc.Country),
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
		})
	}
	if len(record.Locations) == 0 {
		return nil, &resilience.SchemaValidationError{
			ItemID: itemID,
			Field:  "locations",
			Reason: "no location has a name",
		}
	}

	if raw.EventDate != "" {
		if t, ok := parseEventDate(raw.EventDate); ok {
			record.EstimatedTime = &t
		}
	}

	return record, nil
}

func parseEventDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05", "January 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
