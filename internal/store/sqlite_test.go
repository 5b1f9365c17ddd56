package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrawatch/eo-analyzer/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	run := &model.Run{
		Query: model.RunQuery{Keywords: "earthquake", Period: "24h", MaxResults: 10},
	}
	require.NoError(t, st.CreateRun(ctx, run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusFiltering))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFiltering, got.Status)
	assert.Equal(t, "earthquake", got.Query.Keywords)
	assert.Nil(t, got.Result)

	result := &model.RunResult{
		ItemsFetched:  3,
		ItemsAnalyzed: 2,
		Outcomes: []model.ItemOutcome{
			{ItemID: "n1", State: model.ItemAnalyzed},
			{ItemID: "n2", State: model.ItemAnalyzed},
			{ItemID: "n3", State: model.ItemFilteredOut, Reason: "irrelevant"},
		},
	}
	require.NoError(t, st.SaveRunResult(ctx, run.ID, model.RunStatusDone, result))

	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusDone, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.ItemsFetched)
	assert.Len(t, got.Result.Outcomes, 3)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLite(t)

	_, err := st.GetRun(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrRunNotFound))
}

func TestSQLite_UpdateMissingRun(t *testing.T) {
	st := newTestSQLite(t)

	err := st.UpdateRunStatus(context.Background(), "missing", model.RunStatusDone)
	assert.True(t, eris.Is(err, ErrRunNotFound))

	err = st.SaveRunResult(context.Background(), "missing", model.RunStatusDone, &model.RunResult{})
	assert.True(t, eris.Is(err, ErrRunNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	for i := 0; i < 3; i++ {
		run := &model.Run{Query: model.RunQuery{Keywords: "flood"}}
		require.NoError(t, st.CreateRun(ctx, run))
		time.Sleep(5 * time.Millisecond) // distinct created_at ordering
	}

	runs, err := st.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.True(t, !runs[0].CreatedAt.Before(runs[1].CreatedAt))

	all, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLite_RecordStage(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	run := &model.Run{Query: model.RunQuery{Keywords: "flood"}}
	require.NoError(t, st.CreateRun(ctx, run))

	require.NoError(t, st.RecordStage(ctx, run.ID, model.StageResult{
		Name:     "fetch",
		Status:   model.StageStatusComplete,
		Duration: 120,
	}))
	require.NoError(t, st.RecordStage(ctx, run.ID, model.StageResult{
		Name:     "filter",
		Status:   model.StageStatusFailed,
		Duration: 30,
		Error:    "api down",
	}))

	var count int
	row := st.db.QueryRow(`SELECT COUNT(*) FROM run_stages WHERE run_id = ?`, run.ID)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 2, count)
}
