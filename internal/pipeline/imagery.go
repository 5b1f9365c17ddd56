package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terrawatch/eo-analyzer/internal/imagery"
	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/pkg/geocode"
	"github.com/terrawatch/eo-analyzer/pkg/sentinel"
)

// imageryStage resolves each record's primary location and fetches
// satellite tiles for the surrounding area. Records run concurrently;
// a failure for one record is recorded on its analysis and never fails
// the stage. Every input record appears in the output exactly once.
func (p *Pipeline) imageryStage(ctx context.Context, records []model.DisasterRecord) []model.RecordAnalysis {
	analyses := make([]model.RecordAnalysis, len(records))

	concurrency := p.cfg.Pipeline.ImageryConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, record := range records {
		g.Go(func() error {
			analysis := model.RecordAnalysis{Record: record}

			tiles, err := p.fetchTiles(gCtx, record)
			if err != nil {
				analysis.ImageryError = err.Error()
				zap.L().Warn("pipeline: imagery lookup failed",
					zap.String("item_id", record.ItemID),
					zap.String("disaster_type", record.DisasterType),
					zap.Error(err),
				)
			} else {
				analysis.Tiles = tiles
			}

			mu.Lock()
			analyses[i] = analysis
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return analyses
}

// fetchTiles geocodes the record's primary location if it has no
// coordinates, then queries the imagery provider over an AOI buffer and
// event time window. Fetched tiles are preprocessed in place.
func (p *Pipeline) fetchTiles(ctx context.Context, record model.DisasterRecord) ([]model.ImageryTile, error) {
	loc, ok := record.PrimaryLocation()
	if !ok {
		return nil, eris.New("record has no location")
	}

	lat, lon := 0.0, 0.0
	if loc.Resolved() {
		lat, lon = *loc.Latitude, *loc.Longitude
	} else {
		resolved, err := p.geocoder.Resolve(ctx, loc.Name, loc.Country)
		if err != nil {
			if eris.Is(err, geocode.ErrNotFound) {
				return nil, eris.Wrap(err, fmt.Sprintf("could not geocode %q", loc.Name))
			}
			return nil, eris.Wrap(err, "geocode")
		}
		lat, lon = resolved.Latitude, resolved.Longitude
	}

	from, to := p.imageryWindow(record)
	req := sentinel.FetchRequest{
		RecordID: record.ItemID,
		Bounds:   model.AOIBounds(lon, lat, p.cfg.Imagery.AOIBufferDeg),
		From:     from,
		To:       to,
		MaxTiles: p.cfg.Imagery.MaxTiles,
		MaxCloud: p.cfg.Imagery.MaxCloud,
	}

	tiles, err := p.imagery.Fetch(ctx, req)
	if err != nil {
		if eris.Is(err, sentinel.ErrNoImagery) {
			return nil, eris.New("no imagery found for area and time window")
		}
		return nil, eris.Wrap(err, "fetch imagery")
	}

	for i := range tiles {
		p.preprocessTile(&tiles[i])
	}
	return tiles, nil
}

// imageryWindow spans from the event date (or the lookback horizon when
// unknown) to now, so post-event scenes are preferred.
func (p *Pipeline) imageryWindow(record model.DisasterRecord) (time.Time, time.Time) {
	now := time.Now().UTC()
	lookback := time.Duration(p.cfg.Imagery.LookbackDays) * 24 * time.Hour

	from := now.Add(-lookback)
	if record.EstimatedTime != nil && record.EstimatedTime.Before(now) {
		from = *record.EstimatedTime
	}
	return from, now
}

// preprocessTile decodes the tile payload (TIFF from the provider, raw
// samples otherwise), normalizes the raster, and records the actual
// dimensions and patch grid size. Failures leave the raw tile intact.
func (p *Pipeline) preprocessTile(tile *model.ImageryTile) {
	raster, err := imagery.DecodeTIFF(tile.Raster)
	if err != nil {
		raster, err = imagery.FromBytes(tile.Raster, tile.Bands, tile.Height, tile.Width)
	}
	if err != nil {
		zap.L().Debug("pipeline: tile not preprocessable",
			zap.String("tile_id", tile.TileID),
			zap.Error(err),
		)
		return
	}
	tile.Bands, tile.Height, tile.Width = raster.Bands, raster.Height, raster.Width
	if err := imagery.Normalize(raster, 0, 255); err != nil {
		return
	}
	patches, err := imagery.Patches(raster, imagery.DefaultPatchSize, imagery.DefaultStride)
	if err != nil {
		return
	}
	tile.PatchCount = len(patches)
}
