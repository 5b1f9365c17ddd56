package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/terrawatch/eo-analyzer/internal/model"
	"github.com/terrawatch/eo-analyzer/pkg/anthropic"
	"github.com/terrawatch/eo-analyzer/pkg/geocode"
	"github.com/terrawatch/eo-analyzer/pkg/sentinel"
)

// --- News Mock ---

type mockNewsClient struct {
	mock.Mock
}

func (m *mockNewsClient) Search(ctx context.Context, keywords, period string, maxResults int) ([]model.NewsItem, error) {
	args := m.Called(ctx, keywords, period, maxResults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.NewsItem), args.Error(1)
}

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func (m *mockAnthropicClient) CreateBatch(ctx context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.BatchResponse), args.Error(1)
}

func (m *mockAnthropicClient) GetBatch(ctx context.Context, batchID string) (*anthropic.BatchResponse, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.BatchResponse), args.Error(1)
}

func (m *mockAnthropicClient) GetBatchResults(ctx context.Context, batchID string) (anthropic.BatchResultIterator, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(anthropic.BatchResultIterator), args.Error(1)
}

// --- Imagery Mock ---

type mockImageryClient struct {
	mock.Mock
}

func (m *mockImageryClient) Fetch(ctx context.Context, req sentinel.FetchRequest) ([]model.ImageryTile, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ImageryTile), args.Error(1)
}

// --- Geocoder Mock ---

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Resolve(ctx context.Context, place, country string) (*geocode.Result, error) {
	args := m.Called(ctx, place, country)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geocode.Result), args.Error(1)
}

// --- In-memory store fake ---

type memStore struct {
	mu     sync.Mutex
	runs   map[string]*model.Run
	stages map[string][]model.StageResult
	nextID int
}

func newMemStore() *memStore {
	return &memStore{
		runs:   make(map[string]*model.Run),
		stages: make(map[string][]model.StageResult),
	}
}

func (s *memStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		s.nextID++
		run.ID = string(rune('a' + s.nextID - 1))
	}
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *memStore) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id].Status = status
	return nil
}

func (s *memStore) SaveRunResult(ctx context.Context, id string, status model.RunStatus, result *model.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id].Status = status
	s.runs[id].Result = result
	return nil
}

func (s *memStore) RecordStage(ctx context.Context, runID string, stage model.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[runID] = append(s.stages[runID], stage)
	return nil
}

func (s *memStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id], nil
}

func (s *memStore) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Run
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }
