// Package worker reconciles rollups in the background: it consumes repair
// requests, periodically re-derives every project from its children, keeps
// the standing aggregations fresh, and exports reports.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"obras/internal/amqp"
	"obras/internal/core"
	"obras/internal/services"
	"obras/internal/sheets"
	"obras/internal/store"
)

type RollupWorker struct {
	store       store.Store
	recalc      *services.RecalcService
	aggregation *services.AggregationService
	reports     sheets.ReportWriter
	concurrency int
}

// NewRollupWorker builds the worker. reports may be nil to disable export.
func NewRollupWorker(recordStore store.Store, recalc *services.RecalcService, aggregation *services.AggregationService, reports sheets.ReportWriter, concurrency int) *RollupWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &RollupWorker{
		store:       recordStore,
		recalc:      recalc,
		aggregation: aggregation,
		reports:     reports,
		concurrency: concurrency,
	}
}

// HandleRecalcMessage processes one repair request from AMQP. A vanished
// project is dropped, not requeued.
func (w *RollupWorker) HandleRecalcMessage(ctx context.Context, msg *amqp.RecalcRequestMessage) error {
	slog.InfoContext(ctx, "Processing recalc request",
		"project_id", msg.ProjectID,
		"reason", msg.Reason)

	result, err := w.recalc.Recalc(ctx, msg.ProjectID)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Project gone, dropping recalc request",
			"project_id", msg.ProjectID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recalc project %s: %w", msg.ProjectID, err)
	}

	slog.InfoContext(ctx, "Repair recalc completed",
		"project_id", msg.ProjectID,
		"breakdown_count", result.BreakdownCount)
	return nil
}

// ReconcileAll verifies every project and re-derives the drifted ones with
// bounded concurrency. Returns how many were repaired.
func (w *RollupWorker) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := w.store.ListProjectIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list project ids: %w", err)
	}

	var repaired, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			consistent, _, err := w.recalc.Verify(gctx, id)
			if err != nil {
				failed.Add(1)
				slog.ErrorContext(gctx, "Verify failed", "project_id", id, "error", err)
				return nil // one project must not abort the pass
			}
			if consistent {
				return nil
			}
			if _, err := w.recalc.Recalc(gctx, id); err != nil {
				failed.Add(1)
				slog.ErrorContext(gctx, "Repair recalc failed", "project_id", id, "error", err)
				return nil
			}
			repaired.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(repaired.Load()), err
	}

	slog.InfoContext(ctx, "Reconcile pass completed",
		"projects", len(ids),
		"repaired", repaired.Load(),
		"failed", failed.Load())
	return int(repaired.Load()), nil
}

// StartupReconcile runs one full pass so the store is convergent before the
// worker starts consuming, recovering from messages lost while it was down.
func (w *RollupWorker) StartupReconcile(ctx context.Context) error {
	slog.InfoContext(ctx, "Running startup reconcile")
	repaired, err := w.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	if repaired > 0 {
		slog.WarnContext(ctx, "Startup reconcile repaired drifted rollups", "repaired", repaired)
	}
	return nil
}

// standingConfigs are the aggregations the worker keeps fresh.
func standingConfigs() []core.AggregationConfig {
	return []core.AggregationConfig{
		core.BreakdownByProjectOffice(),
		core.BreakdownByOffice(),
		core.BreakdownByMunicipality(),
	}
}

// RefreshAggregations recomputes every standing aggregation from the current
// breakdowns. Each group is upserted independently; a failing group is
// logged and skipped.
func (w *RollupWorker) RefreshAggregations(ctx context.Context) error {
	breakdowns, err := w.store.ListBreakdowns(ctx, store.BreakdownFilter{})
	if err != nil {
		return fmt.Errorf("list breakdowns: %w", err)
	}
	if len(breakdowns) == 0 {
		return nil
	}

	items := make([]map[string]any, len(breakdowns))
	for i, b := range breakdowns {
		items[i] = b.Snapshot()
	}

	for _, cfg := range standingConfigs() {
		for _, group := range partition(items, cfg.GroupBy) {
			if _, err := w.aggregation.Aggregate(ctx, group, cfg); err != nil {
				slog.ErrorContext(ctx, "Aggregation refresh failed",
					"entity_type", cfg.EntityType,
					"aggregation_type", cfg.AggregationType,
					"error", err)
			}
		}
	}
	return nil
}

// partition splits items into per-group slices so the engine's
// first-item-key contract holds for each call.
func partition(items []map[string]any, groupBy []string) [][]map[string]any {
	index := make(map[string]int)
	var groups [][]map[string]any
	for _, item := range items {
		var key strings.Builder
		for _, field := range groupBy {
			fmt.Fprintf(&key, "%v\x00", item[field])
		}
		k := key.String()
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}

// ExportReports pushes the current rollups and aggregation snapshots to the
// report writer.
func (w *RollupWorker) ExportReports(ctx context.Context) error {
	if w.reports == nil {
		slog.WarnContext(ctx, "No report writer configured, skipping export")
		return nil
	}

	projects, err := w.store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	if err := w.reports.WriteRollups(ctx, projects); err != nil {
		return fmt.Errorf("export rollups: %w", err)
	}

	var records []core.AggregationRecord
	for _, cfg := range standingConfigs() {
		batch, err := w.aggregation.List(ctx, cfg.EntityType, cfg.AggregationType, "")
		if err != nil {
			return fmt.Errorf("list %s/%s aggregations: %w", cfg.EntityType, cfg.AggregationType, err)
		}
		records = append(records, batch...)
	}
	if err := w.reports.WriteAggregations(ctx, records); err != nil {
		return fmt.Errorf("export aggregations: %w", err)
	}
	return nil
}

// Run executes periodic reconcile and export passes until ctx ends.
func (w *RollupWorker) Run(ctx context.Context, reconcileInterval, exportInterval time.Duration) {
	reconcile := time.NewTicker(reconcileInterval)
	defer reconcile.Stop()
	export := time.NewTicker(exportInterval)
	defer export.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker loop stopping", "reason", ctx.Err())
			return
		case <-reconcile.C:
			if _, err := w.ReconcileAll(ctx); err != nil {
				slog.ErrorContext(ctx, "Reconcile pass failed", "error", err)
			}
			if err := w.RefreshAggregations(ctx); err != nil {
				slog.ErrorContext(ctx, "Aggregation refresh failed", "error", err)
			}
		case <-export.C:
			if err := w.ExportReports(ctx); err != nil {
				slog.ErrorContext(ctx, "Report export failed", "error", err)
			}
		}
	}
}
