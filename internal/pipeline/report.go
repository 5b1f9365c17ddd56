package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/pkg/anthropic"
)

const narrativeSystemText = `You are writing the summary section of a disaster monitoring report. Given structured event data, write a concise 2-4 sentence overview of the situation. Plain prose, no markdown, no speculation beyond the data.`

const narrativeMaxTokens = 512

// reportStage assembles the final report: it marks every surviving
// record as analyzed, generates the narrative, and freezes the
// aggregate. Never fails; a narrative problem falls back to a
// deterministic summary.
func (p *Pipeline) reportStage(ctx context.Context, run *model.Run, analyses []model.RecordAnalysis, result *model.RunResult) *model.AnalysisReport {
	for _, a := range analyses {
		recordOutcome(result, a.Record.ItemID, model.ItemAnalyzed, "")
	}

	report := &model.AnalysisReport{
		RunID:         run.ID,
		Query:         run.Query,
		Analyses:      analyses,
		ItemsFetched:  result.ItemsFetched,
		ItemsAnalyzed: len(analyses),
		GeneratedAt:   time.Now().UTC(),
	}
	for _, o := range result.Outcomes {
		if o.State != model.ItemAnalyzed {
			report.ItemsSkipped = append(report.ItemsSkipped, o)
		}
	}

	report.Narrative = p.narrative(ctx, analyses)
	return report
}

// narrative asks the model for a prose overview when enabled, falling
// back to a deterministic summary on any failure.
func (p *Pipeline) narrative(ctx context.Context, analyses []model.RecordAnalysis) string {
	fallback := fallbackNarrative(analyses)
	if !p.cfg.Pipeline.Narrative || len(analyses) == 0 {
		return fallback
	}

	var b strings.Builder
	for _, a := range analyses {
		loc, _ := a.Record.PrimaryLocation()
		fmt.Fprintf(&b, "- %s in %s", a.Record.DisasterType, loc.Name)
		if a.Record.Casualties != "" {
			fmt.Fprintf(&b, " (casualties: %s)", a.Record.Casualties)
		}
		fmt.Fprintf(&b, ": %s\n", a.Record.Summary)
	}

	resp, err := p.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.cfg.Anthropic.ExtractModel,
		MaxTokens: narrativeMaxTokens,
		System:    []anthropic.SystemBlock{{Text: narrativeSystemText}},
		Messages: []anthropic.Message{
			{Role: "user", Content: "Events:\n" + b.String()},
		},
	})
	if err != nil {
		zap.L().Warn("pipeline: narrative generation failed, using fallback", zap.Error(err))
		return fallback
	}

	text := strings.TrimSpace(anthropic.Text(resp))
	if text == "" {
		return fallback
	}
	return text
}

// fallbackNarrative builds a one-line summary from event counts by type.
func fallbackNarrative(analyses []model.RecordAnalysis) string {
	if len(analyses) == 0 {
		return "No confirmed disaster events in this run."
	}

	counts := make(map[string]int)
	for _, a := range analyses {
		counts[a.Record.DisasterType]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("%d %s", counts[t], t)
	}
	return fmt.Sprintf("Confirmed %d disaster event(s): %s.", len(analyses), strings.Join(parts, ", "))
}
