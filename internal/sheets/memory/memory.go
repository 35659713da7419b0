// Package memory is an in-process report writer: it captures what would be
// exported, for tests and for running without Google credentials.
package memory

import (
	"context"
	"sync"

	"obras/internal/core"
	"obras/internal/sheets"
)

type Writer struct {
	mu           sync.Mutex
	rollups      [][]core.Project
	aggregations [][]core.AggregationRecord
}

var _ sheets.ReportWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{}
}

func (w *Writer) WriteRollups(_ context.Context, projects []core.Project) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollups = append(w.rollups, append([]core.Project(nil), projects...))
	return nil
}

func (w *Writer) WriteAggregations(_ context.Context, records []core.AggregationRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aggregations = append(w.aggregations, append([]core.AggregationRecord(nil), records...))
	return nil
}

// RollupExports returns every rollup export in order.
func (w *Writer) RollupExports() [][]core.Project {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]core.Project(nil), w.rollups...)
}

// AggregationExports returns every aggregation export in order.
func (w *Writer) AggregationExports() [][]core.AggregationRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]core.AggregationRecord(nil), w.aggregations...)
}
