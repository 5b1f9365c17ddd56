package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/pkg/anthropic"
)

const filterSystemText = `You are a fast relevance filter for a natural disaster monitoring system. Given a news article, decide whether it reports a current or recent natural disaster event (earthquake, flood, wildfire, hurricane, tornado, landslide, tsunami, volcanic eruption, drought, or similar) affecting a specific area. Retrospectives, anniversary pieces, policy debates, and fiction are irrelevant. Respond with a valid JSON object: {"verdict": "relevant" | "irrelevant", "confidence": <0.0-1.0>}`

const filterUserPrompt = `Title: %s

Article text:
%s`

const filterMaxTokens = 128

// filterStage runs the cheap relevance pass over every cleaned item and
// returns the items that pass the confidence threshold. Items that fail
// the check, or whose verdict cannot be obtained, are recorded as
// filtered out.
func (p *Pipeline) filterStage(ctx context.Context, items []model.CleanedItem, result *model.RunResult) ([]model.CleanedItem, error) {
	systemBlocks := anthropic.CachedSystemBlocks(filterSystemText)

	requests := make([]anthropic.BatchRequestItem, len(items))
	for i, item := range items {
		requests[i] = anthropic.BatchRequestItem{
			CustomID: "filter-" + item.ID,
			Params: anthropic.MessageRequest{
				Model:     p.cfg.Anthropic.FilterModel,
				MaxTokens: filterMaxTokens,
				System:    systemBlocks,
				Messages: []anthropic.Message{
					{Role: "user", Content: fmt.Sprintf(filterUserPrompt, item.Title, item.NormalizedText)},
				},
			},
		}
	}

	responses, err := p.execRequests(ctx, requests, p.cfg.Pipeline.FilterConcurrency)
	if err != nil {
		return nil, err
	}

	threshold := p.cfg.Pipeline.ConfidenceThreshold
	var relevant []model.CleanedItem
	for _, item := range items {
		resp, ok := responses["filter-"+item.ID]
		if !ok || resp == nil {
			recordOutcome(result, item.ID, model.ItemFilteredOut, "relevance check failed")
			continue
		}

		verdict := parseVerdict(anthropic.Text(resp), item.ID)
		if !verdict.IsRelevant || verdict.Confidence < threshold {
			reason := fmt.Sprintf("irrelevant (confidence %.2f)", verdict.Confidence)
			if verdict.IsRelevant {
				reason = fmt.Sprintf("below confidence threshold (%.2f < %.2f)", verdict.Confidence, threshold)
			}
			recordOutcome(result, item.ID, model.ItemFilteredOut, reason)
			continue
		}
		relevant = append(relevant, item)
	}

	return relevant, nil
}

// parseVerdict reads the filter model's JSON reply. A bare
// "relevant"/"irrelevant" answer is tolerated with full confidence;
// anything unparsable counts as irrelevant.
func parseVerdict(text, itemID string) model.RelevanceVerdict {
	verdict := model.RelevanceVerdict{ItemID: itemID}

	cleaned := cleanJSON(text)
	var raw struct {
		Verdict    string  `json:"verdict"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "relevant":
			verdict.IsRelevant = true
			verdict.Confidence = 1.0
		case "irrelevant":
			verdict.Confidence = 1.0
		default:
			zap.L().Warn("pipeline: unparsable filter verdict",
				zap.String("item_id", itemID),
				zap.Error(err),
			)
		}
		return verdict
	}

	verdict.IsRelevant = strings.EqualFold(strings.TrimSpace(raw.Verdict), "relevant")
	verdict.Confidence = clampConfidence(raw.Confidence)
	return verdict
}
