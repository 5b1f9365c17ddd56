package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/terrawatch/eo-analyzer/internal/pipeline"
	"github.com/terrawatch/eo-analyzer/internal/registry"
	"github.com/terrawatch/eo-analyzer/internal/store"
	anthropicpkg "github.com/terrawatch/eo-analyzer/pkg/anthropic"
	"github.com/terrawatch/eo-analyzer/pkg/geocode"
	"github.com/terrawatch/eo-analyzer/pkg/gnews"
	"github.com/terrawatch/eo-analyzer/pkg/sentinel"
)

// env bundles the wired pipeline and its closeable dependencies.
type env struct {
	Pipeline *pipeline.Pipeline
	Store    store.Store
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	}
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	if m, ok := st.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
	}
	return st, nil
}

// initPipeline validates config and wires every client the pipeline needs.
func initPipeline(ctx context.Context) (*env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Load()
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "load taxonomy")
	}

	newsClient := gnews.NewClient(
		gnews.WithBaseURL(cfg.News.BaseURL),
		gnews.WithLanguage(cfg.News.Language),
	)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	imageryClient := sentinel.NewClient(
		cfg.Imagery.ClientID,
		cfg.Imagery.ClientSecret,
		sentinel.WithBaseURL(cfg.Imagery.BaseURL),
		sentinel.WithTokenURL(cfg.Imagery.TokenURL),
		sentinel.WithRateLimit(cfg.Imagery.RatePerSec),
	)
	geocoder := geocode.NewCascade(
		time.Duration(cfg.Geocode.CacheTTLHours)*time.Hour,
		geocode.NewNominatim(cfg.Geocode.UserAgent, geocode.WithNominatimBaseURL(cfg.Geocode.BaseURL)),
	)

	return &env{
		Pipeline: pipeline.New(cfg, st, newsClient, anthropicClient, imageryClient, geocoder, reg),
		Store:    st,
	}, nil
}
