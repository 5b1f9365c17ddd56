package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terrawatch/eo-analyzer/internal/resilience"
	"github.com/terrawatch/eo-analyzer/pkg/anthropic"
)

// execRequests runs a set of message requests and returns responses
// keyed by custom id. Small sets (or no-batch mode) go through direct
// concurrent CreateMessage calls with retry; larger sets use the Batch
// API. A missing key means that item failed; callers treat it as a
// per-item failure, not a stage failure.
func (p *Pipeline) execRequests(ctx context.Context, items []anthropic.BatchRequestItem, concurrency int) (map[string]*anthropic.MessageResponse, error) {
	if len(items) == 0 {
		return map[string]*anthropic.MessageResponse{}, nil
	}

	threshold := p.cfg.Anthropic.SmallBatchThreshold
	if p.cfg.Anthropic.NoBatch || len(items) <= threshold {
		return p.execDirect(ctx, items, concurrency)
	}
	return p.execBatch(ctx, items)
}

func (p *Pipeline) execDirect(ctx context.Context, items []anthropic.BatchRequestItem, concurrency int) (map[string]*anthropic.MessageResponse, error) {
	if concurrency <= 0 {
		concurrency = 10
	}

	retryCfg := resilience.DefaultRetryConfig()
	if p.cfg.Pipeline.RetryAttempts > 0 {
		retryCfg.MaxAttempts = p.cfg.Pipeline.RetryAttempts
	}
	if p.cfg.Pipeline.RetryBackoffMs > 0 {
		retryCfg.InitialBackoff = time.Duration(p.cfg.Pipeline.RetryBackoffMs) * time.Millisecond
	}

	var mu sync.Mutex
	results := make(map[string]*anthropic.MessageResponse, len(items))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, item := range items {
		g.Go(func() error {
			cfg := retryCfg
			cfg.OnRetry = resilience.RetryLogger("anthropic", "create message")
			resp, err := resilience.DoVal(gCtx, cfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
				return p.anthropic.CreateMessage(ctx, item.Params)
			})
			if err != nil {
				// Per-item failure; the caller accounts for the gap.
				zap.L().Warn("pipeline: direct message failed",
					zap.String("custom_id", item.CustomID),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			results[item.CustomID] = resp
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: direct execution")
	}
	return results, nil
}

func (p *Pipeline) execBatch(ctx context.Context, items []anthropic.BatchRequestItem) (map[string]*anthropic.MessageResponse, error) {
	batch, err := p.anthropic.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create batch")
	}

	var pollOpts []anthropic.PollOption
	if len(items) < 20 {
		pollOpts = append(pollOpts, anthropic.WithPollCap(10*time.Second))
	}
	batch, err = anthropic.PollBatch(ctx, p.anthropic, batch.ID, pollOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: poll batch")
	}

	iter, err := p.anthropic.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: get batch results")
	}
	return anthropic.CollectBatchResults(iter)
}

// cleanJSON strips markdown code fences and surrounding prose so the
// remaining text is the JSON object the model was asked for.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// clampConfidence forces a confidence score into [0, 1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
