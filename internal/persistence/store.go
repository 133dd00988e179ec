// Package persistence defines the durable execution-log shapes the Step
// Loop produces (spec §3 StepRecord/ExecutionLog, §6 "Process surface"
// persistence formats) and the Store contract that writes them somewhere
// durable. internal/store/postgres provides the pgx-backed implementation;
// this package stays free of any specific backend so internal/stepper can
// depend on it without pulling in a database driver.
package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// BrowserSnapshot is StepRecord's "browser snapshot (url/title/tabs/
// interacted-elements/screenshot)" (§3).
type BrowserSnapshot struct {
	URL                string `json:"url"`
	Title              string `json:"title"`
	Tabs               []string `json:"tabs,omitempty"`
	InteractedElements []int    `json:"interactedElements,omitempty"`
	Screenshot         string   `json:"screenshot,omitempty"` // base64 PNG, or the reference ArchiveScreenshots stored
}

// CommandResultRecord is the persisted shape of one commands.Result.
type CommandResultRecord struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StepRecord is one step's full record (§3 "StepRecord").
type StepRecord struct {
	Step            int                   `json:"step"`
	Timestamp       time.Time             `json:"timestamp"`
	BrowserSnapshot BrowserSnapshot       `json:"browserSnapshot"`
	Decision        string                `json:"decision"`
	CommandResults  []CommandResultRecord `json:"commandResults"`
	InputTokens     int                   `json:"inputTokens"`
	OutputTokens    int                   `json:"outputTokens"`
	DurationMs      int64                 `json:"durationMs"`
	Metadata        map[string]any        `json:"metadata,omitempty"`
}

// ScreenshotOmittedPlaceholder is substituted for BrowserSnapshot.Screenshot
// when an ExecutionLog is marshaled for the JSON archive (§6: "entries:
// [StepRecord with browserState.screenshot replaced by '[screenshot
// omitted]']"). The real bytes are expected to go to object storage
// instead (internal/objectstore), not be dropped.
const ScreenshotOmittedPlaceholder = "[screenshot omitted]"

// ExecutionLog is the run-scoped, append-only record the Agent (here,
// internal/stepper.Stepper) owns for the duration of one run (§3
// "Cyclic ownership").
type ExecutionLog struct {
	mu sync.Mutex

	Task              string       `json:"task"`
	StartTime         time.Time    `json:"startTime"`
	EndTime           *time.Time   `json:"endTime,omitempty"`
	TotalDuration     *int64       `json:"totalDuration,omitempty"`
	TotalSteps        int          `json:"totalSteps"`
	TotalInputTokens  int          `json:"totalInputTokens"`
	TotalOutputTokens int          `json:"totalOutputTokens"`
	Entries           []StepRecord `json:"entries"`
}

// NewExecutionLog starts a log for task, stamped at startedAt. Taking the
// start time as a parameter rather than calling time.Now() internally
// keeps the type trivially testable against fixed clocks.
func NewExecutionLog(task string, startedAt time.Time) *ExecutionLog {
	return &ExecutionLog{Task: task, StartTime: startedAt}
}

// Append adds r to the log, keeping TotalSteps/TotalInputTokens/
// TotalOutputTokens in sync (§3 invariant: "ExecutionLog.totalInputTokens /
// totalOutputTokens equal the sum over entries' usage").
func (l *ExecutionLog) Append(r StepRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, r)
	l.TotalSteps = len(l.Entries)
	l.TotalInputTokens += r.InputTokens
	l.TotalOutputTokens += r.OutputTokens
}

// Finalize marks the log complete at endedAt (§3: "ExecutionLog ... is
// finalised when the run ends").
func (l *ExecutionLog) Finalize(endedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.EndTime = &endedAt
	d := endedAt.Sub(l.StartTime).Milliseconds()
	l.TotalDuration = &d
}

// Snapshot returns a value copy safe to marshal or hand to a Store without
// holding l's lock for the duration of an I/O call.
func (l *ExecutionLog) Snapshot() ExecutionLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ExecutionLog{
		Task:              l.Task,
		StartTime:         l.StartTime,
		EndTime:           l.EndTime,
		TotalDuration:     l.TotalDuration,
		TotalSteps:        l.TotalSteps,
		TotalInputTokens:  l.TotalInputTokens,
		TotalOutputTokens: l.TotalOutputTokens,
		Entries:           append([]StepRecord{}, l.Entries...),
	}
}

// MarshalArchiveJSON renders log for the JSON archive format (§6), with
// every entry's screenshot replaced by ScreenshotOmittedPlaceholder.
func (log ExecutionLog) MarshalArchiveJSON() ([]byte, error) {
	archived := log
	archived.Entries = make([]StepRecord, len(log.Entries))
	for i, e := range log.Entries {
		e.BrowserSnapshot.Screenshot = ScreenshotOmittedPlaceholder
		archived.Entries[i] = e
	}
	return json.MarshalIndent(archived, "", "  ")
}

// Store is the durable append-only persistence contract a run's
// ExecutionLog is written through (§3, §6). internal/store/postgres is the
// concrete pgx-backed implementation; a nil Store is valid and simply
// means the run isn't durably persisted.
type Store interface {
	AppendStep(ctx context.Context, runID string, r StepRecord) error
	FinalizeRun(ctx context.Context, runID string, log ExecutionLog) error
	LoadRun(ctx context.Context, runID string) (ExecutionLog, error)
}
