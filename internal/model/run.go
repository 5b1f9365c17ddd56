package model

import "time"

// RunStatus is the orchestrator state machine position for a run.
type RunStatus string

const (
	RunStatusQueued          RunStatus = "queued"
	RunStatusFetching        RunStatus = "fetching"
	RunStatusFiltering       RunStatus = "filtering"
	RunStatusExtracting      RunStatus = "extracting"
	RunStatusFetchingImagery RunStatus = "fetching_imagery"
	RunStatusReporting       RunStatus = "reporting"
	RunStatusDone            RunStatus = "done"
	RunStatusFailed          RunStatus = "failed"
)

// RunQuery describes what a run should fetch and analyze.
type RunQuery struct {
	Keywords   string    `json:"keywords"`
	Period     string    `json:"period"` // e.g. "24h", "7d"
	MaxResults int       `json:"max_results"`
	Since      time.Time `json:"since,omitempty"`
	Until      time.Time `json:"until,omitempty"`
}

// Run is one complete execution of the pipeline over a batch of news
// items, terminating in Done or Failed.
type Run struct {
	ID        string     `json:"id"`
	Query     RunQuery   `json:"query"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StageStatus is the state of one pipeline stage within a run.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	Name     string         `json:"name"`
	Status   StageStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ItemState is the terminal disposition of a single news item. Every
// item ends a run in exactly one state.
type ItemState string

const (
	ItemFilteredOut      ItemState = "filtered_out"
	ItemExtractionFailed ItemState = "extraction_failed"
	ItemAnalyzed         ItemState = "analyzed"
)

// ItemOutcome pairs an item with its terminal state and, for skipped
// items, the recorded reason.
type ItemOutcome struct {
	ItemID string    `json:"item_id"`
	State  ItemState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// RecordAnalysis pairs a confirmed DisasterRecord with its imagery.
// ImageryError records a non-fatal lookup failure (no tiles found,
// provider unreachable after retries).
type RecordAnalysis struct {
	Record       DisasterRecord `json:"record"`
	Tiles        []ImageryTile  `json:"tiles"`
	ImageryError string         `json:"imagery_error,omitempty"`
}

// AnalysisReport is the final aggregate assembled by the orchestrator.
// Immutable once returned.
type AnalysisReport struct {
	RunID         string           `json:"run_id"`
	Query         RunQuery         `json:"query"`
	Analyses      []RecordAnalysis `json:"analyses"`
	Narrative     string           `json:"narrative"`
	ItemsFetched  int              `json:"items_fetched"`
	ItemsAnalyzed int              `json:"items_analyzed"`
	ItemsSkipped  []ItemOutcome    `json:"items_skipped"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// RunResult is the persisted outcome of a run.
type RunResult struct {
	Stages        []StageResult  `json:"stages"`
	Outcomes      []ItemOutcome  `json:"outcomes"`
	Report        *AnalysisReport `json:"report,omitempty"`
	ItemsFetched  int            `json:"items_fetched"`
	ItemsAnalyzed int            `json:"items_analyzed"`
	Error         string         `json:"error,omitempty"`
}
