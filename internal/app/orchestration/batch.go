package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/observability"
)

// BatchState is the lifecycle state of a batch simulation.
type BatchState string

// Batch states.
const (
	BatchIdle      BatchState = "idle"
	BatchAnalyzing BatchState = "analyzing"
	BatchAnalyzed  BatchState = "analyzed"
	BatchExecuting BatchState = "executing"
)

var batchTransitions = map[BatchState]map[event]BatchState{
	BatchIdle:      {evAnalyze: BatchAnalyzing},
	BatchAnalyzing: {evAnalyzed: BatchAnalyzed, evFail: BatchIdle},
	BatchAnalyzed:  {evAnalyze: BatchAnalyzing, evStart: BatchExecuting},
	BatchExecuting: {evFinished: BatchAnalyzed},
}

// Row maps input names to operator-entered values.
type Row map[string]string

// RowResult is the simulated outcome of one row.
type RowResult struct {
	CalculatedValues any    `json:"calculatedValues"`
	TriggeredActions []any  `json:"triggeredActions"`
	LogicTrace       any    `json:"logicTrace"`
	Error            string `json:"error,omitempty"`
}

// BatchSnapshot is a consistent copy of the batch workflow.
type BatchSnapshot struct {
	State    BatchState  `json:"state"`
	Code     string      `json:"code"`
	Analysis *Analysis   `json:"analysis,omitempty"`
	Columns  []string    `json:"columns"`
	Rows     []Row       `json:"rows"`
	Results  []RowResult `json:"results,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Batch runs the analyze then batch-execute simulation workflow.
type Batch struct {
	client   backend.Requester
	onChange func(BatchSnapshot)

	mu       sync.Mutex
	state    BatchState
	code     string
	analysis *Analysis
	rows     []Row
	results  []RowResult
	err      string
}

// NewBatch constructs an idle batch workflow.
func NewBatch(client backend.Requester, onChange func(BatchSnapshot)) *Batch {
	return &Batch{client: client, onChange: onChange, state: BatchIdle}
}

// Snapshot returns a copy of the workflow.
func (b *Batch) Snapshot() BatchSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := BatchSnapshot{
		State:   b.state,
		Code:    b.code,
		Columns: []string{},
		Rows:    make([]Row, 0, len(b.rows)),
		Error:   b.err,
	}
	if b.analysis != nil {
		a := *b.analysis
		out.Analysis = &a
		out.Columns = a.Inputs.Keys()
	}
	for _, r := range b.rows {
		out.Rows = append(out.Rows, cloneRow(r))
	}
	if b.results != nil {
		out.Results = append([]RowResult(nil), b.results...)
	}
	return out
}

// Analyze infers code and resets the rows to a single empty row. Prior
// results are discarded.
func (b *Batch) Analyze(ctx context.Context, code string) (Analysis, error) {
	if strings.TrimSpace(code) == "" {
		return Analysis{}, errs.Validation("batch/analyze", "script code is required")
	}
	b.mu.Lock()
	if err := b.transitionLocked(evAnalyze); err != nil {
		b.mu.Unlock()
		return Analysis{}, err
	}
	b.code = code
	b.analysis = nil
	b.rows = nil
	b.results = nil
	b.err = ""
	b.mu.Unlock()
	b.notify()

	analysis, err := infer(ctx, b.client, "batch/analyze", code)

	b.mu.Lock()
	if err != nil {
		b.err = errs.Message(err)
		_ = b.transitionLocked(evFail)
	} else {
		b.analysis = &analysis
		b.rows = []Row{emptyRow(analysis.Inputs.Keys())}
		_ = b.transitionLocked(evAnalyzed)
	}
	b.mu.Unlock()
	b.notify()
	return analysis, err
}

// AddRow appends a row seeded from the last row, or empty when there are no
// rows. It returns the new row's index.
func (b *Batch) AddRow() (int, error) {
	b.mu.Lock()
	if err := b.editableLocked("batch/add-row"); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	keys := b.analysis.Inputs.Keys()
	row := emptyRow(keys)
	if n := len(b.rows); n > 0 {
		last := b.rows[n-1]
		for _, k := range keys {
			row[k] = last[k]
		}
	}
	b.rows = append(b.rows, row)
	b.results = nil
	idx := len(b.rows) - 1
	b.mu.Unlock()
	b.notify()
	return idx, nil
}

// RemoveRow deletes the row at index.
func (b *Batch) RemoveRow(index int) error {
	b.mu.Lock()
	if err := b.editableLocked("batch/remove-row"); err != nil {
		b.mu.Unlock()
		return err
	}
	if index < 0 || index >= len(b.rows) {
		b.mu.Unlock()
		return errs.Validation("batch/remove-row", fmt.Sprintf("row %d out of range", index))
	}
	b.rows = append(b.rows[:index:index], b.rows[index+1:]...)
	b.results = nil
	b.mu.Unlock()
	b.notify()
	return nil
}

// EditCell sets one input value of one row.
func (b *Batch) EditCell(index int, key, value string) error {
	b.mu.Lock()
	if err := b.editableLocked("batch/edit-cell"); err != nil {
		b.mu.Unlock()
		return err
	}
	if index < 0 || index >= len(b.rows) {
		b.mu.Unlock()
		return errs.Validation("batch/edit-cell", fmt.Sprintf("row %d out of range", index))
	}
	if !b.analysis.Inputs.Has(key) {
		b.mu.Unlock()
		return errs.Validation("batch/edit-cell", fmt.Sprintf("unknown input %q", key))
	}
	b.rows[index][key] = value
	b.results = nil
	b.mu.Unlock()
	b.notify()
	return nil
}

// Execute sends every row in one request. Row i of the returned results
// belongs to row i of the inputs; a reply with a different row count is
// rejected.
func (b *Batch) Execute(ctx context.Context) ([]RowResult, error) {
	b.mu.Lock()
	if b.state == BatchAnalyzed && len(b.rows) == 0 {
		b.mu.Unlock()
		return nil, errs.Validation("batch/execute", "at least one input row is required")
	}
	if err := b.transitionLocked(evStart); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	rows := make([]Row, len(b.rows))
	for i, r := range b.rows {
		rows[i] = cloneRow(r)
	}
	code := b.code
	b.err = ""
	b.results = nil
	b.mu.Unlock()
	b.notify()

	observability.Log().Info("executing batch simulation", observability.F("rows", len(rows)))
	results, err := b.execute(ctx, code, rows)

	b.mu.Lock()
	_ = b.transitionLocked(evFinished)
	if err != nil {
		b.err = errs.Message(err)
	} else {
		b.results = results
	}
	b.mu.Unlock()
	b.notify()
	return results, err
}

func (b *Batch) execute(ctx context.Context, code string, rows []Row) ([]RowResult, error) {
	res := b.client.Post(ctx, "/pinescript/execute", map[string]any{
		"code":       code,
		"inputsList": rows,
	})
	if err := res.AsError("batch/execute"); err != nil {
		return nil, err
	}
	var reply struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := res.Decode(&reply); err != nil {
		return nil, err
	}
	if len(reply.Results) != len(rows) {
		return nil, errs.New("batch/execute", errs.CodeBackend,
			errs.WithMessage(fmt.Sprintf("backend returned %d results for %d rows", len(reply.Results), len(rows))))
	}
	results := make([]RowResult, len(reply.Results))
	for i, raw := range reply.Results {
		if err := json.Unmarshal(raw, &results[i]); err != nil {
			results[i] = RowResult{Error: "malformed result: " + err.Error()}
		}
	}
	return results, nil
}

func (b *Batch) editableLocked(op string) error {
	if b.state != BatchAnalyzed || b.analysis == nil {
		return errs.New(op, errs.CodeConflict,
			errs.WithMessage("rows can only be edited after a successful analysis"),
			errs.WithField("state", string(b.state)))
	}
	return nil
}

func (b *Batch) transitionLocked(ev event) error {
	to, ok := batchTransitions[b.state][ev]
	if !ok {
		return errs.New("batch/"+string(ev), errs.CodeConflict,
			errs.WithMessage(string(ev)+" is not allowed while "+string(b.state)),
			errs.WithField("state", string(b.state)))
	}
	b.state = to
	return nil
}

func (b *Batch) notify() {
	if b.onChange == nil {
		return
	}
	b.onChange(b.Snapshot())
}

func emptyRow(keys []string) Row {
	row := make(Row, len(keys))
	for _, k := range keys {
		row[k] = ""
	}
	return row
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
