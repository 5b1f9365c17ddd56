package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/pkg/anthropic"
)

const parseQuerySystemText = `You translate a free-text disaster monitoring request into search parameters. Respond with a valid JSON object:
{"keywords": "<news search keywords, OR-separated>", "period": "<recency window like 24h or 7d, or empty>", "since": "<ISO 8601 date or empty>", "until": "<ISO 8601 date or empty>", "max_results": <number or 0>}
Keep keywords close to the user's wording. Do not invent constraints the request does not state.`

const parseQueryMaxTokens = 256

// ParseQuery turns a natural-language request ("floods in Spain last
// week") into a structured run query using the cheap model. An
// unparsable reply falls back to using the raw text as keywords so the
// run can still proceed.
func (p *Pipeline) ParseQuery(ctx context.Context, text string) (model.RunQuery, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.RunQuery{}, eris.New("pipeline: empty query text")
	}

	resp, err := p.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.cfg.Anthropic.FilterModel,
		MaxTokens: parseQueryMaxTokens,
		System:    []anthropic.SystemBlock{{Text: parseQuerySystemText}},
		Messages: []anthropic.Message{
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return model.RunQuery{}, eris.Wrap(err, "pipeline: parse query")
	}

	var raw struct {
		Keywords   string `json:"keywords"`
		Period     string `json:"period"`
		Since      string `json:"since"`
		Until      string `json:"until"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(anthropic.Text(resp))), &raw); err != nil || strings.TrimSpace(raw.Keywords) == "" {
		zap.L().Warn("pipeline: unparsable query reply, using raw text as keywords",
			zap.Error(err),
		)
		return model.RunQuery{Keywords: text}, nil
	}

	query := model.RunQuery{
		Keywords: strings.TrimSpace(raw.Keywords),
		Period:   strings.TrimSpace(raw.Period),
	}
	if raw.MaxResults > 0 {
		query.MaxResults = raw.MaxResults
	}
	if t, ok := parseEventDate(raw.Since); ok {
		query.Since = t
	}
	if t, ok := parseEventDate(raw.Until); ok {
		query.Until = t
	}
	return query, nil
}
