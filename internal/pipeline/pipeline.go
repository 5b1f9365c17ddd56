// Package pipeline orchestrates the disaster analysis run: fetch news,
// filter for relevance, extract structured events, fetch satellite
// imagery, and assemble the final report. Stages execute in order; a
// stage failure moves the run to failed but preserves the partial
// result gathered so far. Individual item failures never fail the run.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/terrawatch/eo-analyzer/internal/config"
	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/internal/preprocess"
	"github.com/terrawatch/eo-analyzer/internal/registry"
	"github.com/terrawatch/eo-analyzer/internal/store"
	"github.com/terrawatch/eo-analyzer/pkg/anthropic"
	"github.com/terrawatch/eo-analyzer/pkg/geocode"
	"github.com/terrawatch/eo-analyzer/pkg/gnews"
	"github.com/terrawatch/eo-analyzer/pkg/sentinel"
)

// Stage names as persisted in run results.
const (
	StageFetch   = "fetch"
	StageFilter  = "filter"
	StageExtract = "extract"
	StageImagery = "imagery"
	StageReport  = "report"
)

// Geocoder resolves place names. Satisfied by geocode.CascadeClient.
type Geocoder interface {
	Resolve(ctx context.Context, place, country string) (*geocode.Result, error)
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	news      gnews.Client
	anthropic anthropic.Client
	imagery   sentinel.Client
	geocoder  Geocoder
	registry  *registry.Registry
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	newsClient gnews.Client,
	aiClient anthropic.Client,
	imageryClient sentinel.Client,
	geocoder Geocoder,
	reg *registry.Registry,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		news:      newsClient,
		anthropic: aiClient,
		imagery:   imageryClient,
		geocoder:  geocoder,
		registry:  reg,
	}
}

// Start creates the run record in its queued state.
func (p *Pipeline) Start(ctx context.Context, query model.RunQuery) (*model.Run, error) {
	if query.Keywords == "" {
		query.Keywords = p.registry.DefaultKeywords()
	}
	if query.Period == "" {
		query.Period = "7d"
	}
	if query.MaxResults <= 0 {
		query.MaxResults = p.cfg.News.MaxResults
	}

	run := &model.Run{Query: query, Status: model.RunStatusQueued}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return run, nil
}

// Execute drives a run through every stage and persists the outcome.
// The returned result is also stored on the run row; the error is
// non-nil only when the run itself failed (stage-level failure), not
// for per-item problems.
func (p *Pipeline) Execute(ctx context.Context, run *model.Run) (*model.RunResult, error) {
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("keywords", run.Query.Keywords))
	log.Info("pipeline: starting run")

	result := &model.RunResult{}

	setStatus := func(status model.RunStatus) {
		run.Status = status
		if err := p.store.UpdateRunStatus(ctx, run.ID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}

	trackStage := func(name string, fn func() (map[string]any, error)) error {
		start := time.Now()
		meta, err := fn()
		stage := model.StageResult{
			Name:     name,
			Status:   model.StageStatusComplete,
			Duration: time.Since(start).Milliseconds(),
			Metadata: meta,
		}
		if err != nil {
			stage.Status = model.StageStatusFailed
			stage.Error = err.Error()
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", stage.Duration),
				zap.Error(err),
			)
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", name),
				zap.Int64("duration_ms", stage.Duration),
			)
		}
		result.Stages = append(result.Stages, stage)
		if recErr := p.store.RecordStage(ctx, run.ID, stage); recErr != nil {
			log.Warn("pipeline: failed to record stage", zap.String("stage", name), zap.Error(recErr))
		}
		return err
	}

	fail := func(err error) (*model.RunResult, error) {
		result.Error = err.Error()
		if saveErr := p.store.SaveRunResult(ctx, run.ID, model.RunStatusFailed, result); saveErr != nil {
			log.Warn("pipeline: failed to save failed result", zap.Error(saveErr))
		}
		run.Status = model.RunStatusFailed
		run.Result = result
		return result, err
	}

	// Fetch.
	setStatus(model.RunStatusFetching)
	var items []model.NewsItem
	var cleaned []model.CleanedItem
	err := trackStage(StageFetch, func() (map[string]any, error) {
		var fetchErr error
		items, fetchErr = p.news.Search(ctx, run.Query.Keywords, run.Query.Period, run.Query.MaxResults)
		if fetchErr != nil {
			return nil, fetchErr
		}
		items = dedupeItems(items)
		cleaned = make([]model.CleanedItem, len(items))
		for i, item := range items {
			cleaned[i] = preprocess.Clean(item)
		}
		return map[string]any{"items": len(items)}, nil
	})
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: fetch stage"))
	}
	result.ItemsFetched = len(items)

	if len(items) == 0 {
		// Nothing to analyze; finish with an empty report.
		setStatus(model.RunStatusReporting)
		report := p.emptyReport(run)
		result.Report = report
		result.Stages = append(result.Stages,
			model.StageResult{Name: StageFilter, Status: model.StageStatusSkipped},
			model.StageResult{Name: StageExtract, Status: model.StageStatusSkipped},
			model.StageResult{Name: StageImagery, Status: model.StageStatusSkipped},
			model.StageResult{Name: StageReport, Status: model.StageStatusComplete},
		)
		return p.finish(ctx, run, result, log)
	}

	// Filter.
	setStatus(model.RunStatusFiltering)
	var relevant []model.CleanedItem
	err = trackStage(StageFilter, func() (map[string]any, error) {
		var filterErr error
		relevant, filterErr = p.filterStage(ctx, cleaned, result)
		if filterErr != nil {
			return nil, filterErr
		}
		return map[string]any{"relevant": len(relevant), "filtered_out": len(cleaned) - len(relevant)}, nil
	})
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: filter stage"))
	}

	// Extract.
	setStatus(model.RunStatusExtracting)
	var records []model.DisasterRecord
	err = trackStage(StageExtract, func() (map[string]any, error) {
		var extractErr error
		records, extractErr = p.extractStage(ctx, relevant, result)
		if extractErr != nil {
			return nil, extractErr
		}
		return map[string]any{"records": len(records)}, nil
	})
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: extract stage"))
	}

	// Imagery. Per-record failures are recorded on the analysis, never
	// returned as a stage error.
	setStatus(model.RunStatusFetchingImagery)
	var analyses []model.RecordAnalysis
	_ = trackStage(StageImagery, func() (map[string]any, error) {
		analyses = p.imageryStage(ctx, records)
		tiles := 0
		for _, a := range analyses {
			tiles += len(a.Tiles)
		}
		return map[string]any{"records": len(analyses), "tiles": tiles}, nil
	})

	// Report.
	setStatus(model.RunStatusReporting)
	err = trackStage(StageReport, func() (map[string]any, error) {
		report := p.reportStage(ctx, run, analyses, result)
		result.Report = report
		return map[string]any{"analyzed": report.ItemsAnalyzed}, nil
	})
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: report stage"))
	}

	return p.finish(ctx, run, result, log)
}

func (p *Pipeline) finish(ctx context.Context, run *model.Run, result *model.RunResult, log *zap.Logger) (*model.RunResult, error) {
	result.ItemsAnalyzed = countOutcomes(result.Outcomes, model.ItemAnalyzed)
	if err := p.store.SaveRunResult(ctx, run.ID, model.RunStatusDone, result); err != nil {
		log.Warn("pipeline: failed to save result", zap.Error(err))
	}
	run.Status = model.RunStatusDone
	run.Result = result
	log.Info("pipeline: run complete",
		zap.Int("items_fetched", result.ItemsFetched),
		zap.Int("items_analyzed", result.ItemsAnalyzed),
	)
	return result, nil
}

func (p *Pipeline) emptyReport(run *model.Run) *model.AnalysisReport {
	return &model.AnalysisReport{
		RunID:       run.ID,
		Query:       run.Query,
		Narrative:   "No news items matched the query.",
		GeneratedAt: time.Now().UTC(),
	}
}

// recordOutcome appends an item's terminal disposition.
func recordOutcome(result *model.RunResult, itemID string, state model.ItemState, reason string) {
	result.Outcomes = append(result.Outcomes, model.ItemOutcome{
		ItemID: itemID,
		State:  state,
		Reason: reason,
	})
}

func countOutcomes(outcomes []model.ItemOutcome, state model.ItemState) int {
	n := 0
	for _, o := range outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// dedupeItems drops items that share a link with an earlier item.
func dedupeItems(items []model.NewsItem) []model.NewsItem {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if it.Link != "" && seen[it.Link] {
			continue
		}
		seen[it.Link] = true
		out = append(out, it)
	}
	return out
}
