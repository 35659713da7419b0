package services

import (
	"context"
	"fmt"
	"log/slog"

	"obras/internal/amqp"
	"obras/internal/core"
	"obras/internal/identity"
	"obras/internal/store"
)

const (
	RollupConsistent RollupStatus = "consistent"
	RollupStale      RollupStatus = "stale"
)

type (
	// RollupStatus reports whether every parent touched by a mutation was
	// successfully recalculated.
	RollupStatus string

	// MutationResult is the outcome of one single-item mutation. The write
	// itself succeeded; StaleProjectIDs names parents whose recalculation
	// failed and was handed to the repair queue.
	MutationResult struct {
		ID              string
		RollupStatus    RollupStatus
		StaleProjectIDs []string
	}

	// BreakdownUpdate pairs a breakdown id with its patch for bulk updates.
	BreakdownUpdate struct {
		ID    string
		Patch store.BreakdownPatch
	}

	// BreakdownImport is one row of a bulk import, amounts given as decimal
	// peso strings the way they arrive from budget spreadsheets.
	BreakdownImport struct {
		ProjectID    string
		Name         string
		Office       string
		Municipality string
		Status       core.Status
		Allocated    string
		Utilized     string
		Manager      string
		TargetDate   string
		Remarks      string
	}

	// BatchResult is the outcome of one bulk mutation. Completed items are
	// never rolled back; ItemErrors is index-aligned with the input, nil
	// meaning success.
	BatchResult struct {
		IDs             []string
		BatchID         string
		ItemErrors      []error
		RollupStatus    RollupStatus
		StaleProjectIDs []string
	}
)

// BreakdownService orchestrates breakdown mutations: authenticate, validate,
// write, log, then recalculate every affected parent. Logging never blocks
// the mutation; recalculation failures degrade the result to stale instead
// of failing it.
type BreakdownService struct {
	store      store.Store
	recalc     *RecalcService
	activity   *ActivityLogger
	identity   identity.Resolver
	amqpClient *amqp.Client
}

func NewBreakdownService(recordStore store.Store, recalc *RecalcService, activity *ActivityLogger, resolver identity.Resolver, amqpClient *amqp.Client) *BreakdownService {
	return &BreakdownService{
		store:      recordStore,
		recalc:     recalc,
		activity:   activity,
		identity:   resolver,
		amqpClient: amqpClient,
	}
}

func (s *BreakdownService) Create(ctx context.Context, b core.Breakdown) (MutationResult, error) {
	principal, err := s.requireWriter(ctx)
	if err != nil {
		return MutationResult{}, err
	}
	if err := b.Validate(); err != nil {
		return MutationResult{}, err
	}
	if err := s.requireProject(ctx, b.ProjectID); err != nil {
		return MutationResult{}, err
	}

	b.CreatedBy = principal.ID
	b.UpdatedBy = principal.ID
	id, err := s.store.InsertBreakdown(ctx, b)
	if err != nil {
		return MutationResult{}, fmt.Errorf("insert breakdown: %w", err)
	}

	s.activity.Log(ctx, core.ActivityEntry{
		Action:     core.ActionCreated,
		EntityType: core.EntityBreakdowns,
		EntityID:   id,
		Snapshot:   s.snapshotOf(ctx, id),
	})

	status, stale := s.recalcParents(ctx, parentsOf(b.ProjectID))
	return MutationResult{ID: id, RollupStatus: status, StaleProjectIDs: stale}, nil
}

func (s *BreakdownService) Update(ctx context.Context, id string, patch store.BreakdownPatch) (MutationResult, error) {
	principal, err := s.requireWriter(ctx)
	if err != nil {
		return MutationResult{}, err
	}

	prev, err := s.store.GetBreakdown(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}

	merged := applyPatch(*prev, patch)
	if err := merged.Validate(); err != nil {
		return MutationResult{}, err
	}
	if patch.ProjectID != nil && *patch.ProjectID != prev.ProjectID {
		if err := s.requireProject(ctx, *patch.ProjectID); err != nil {
			return MutationResult{}, err
		}
	}

	patch.UpdatedBy = principal.ID
	if err := s.store.PatchBreakdown(ctx, id, patch); err != nil {
		return MutationResult{}, fmt.Errorf("patch breakdown: %w", err)
	}

	next, err := s.store.GetBreakdown(ctx, id)
	if err != nil {
		// The write went through; log with the merged view instead.
		m := merged
		next = &m
	}
	s.activity.Log(ctx, core.ActivityEntry{
		Action:         core.ActionUpdated,
		EntityType:     core.EntityBreakdowns,
		EntityID:       id,
		Snapshot:       next.Snapshot(),
		PreviousValues: prev.Snapshot(),
		NewValues:      next.Snapshot(),
	})

	status, stale := s.recalcParents(ctx, parentsOf(prev.ProjectID, next.ProjectID))
	return MutationResult{ID: id, RollupStatus: status, StaleProjectIDs: stale}, nil
}

func (s *BreakdownService) Delete(ctx context.Context, id string) (MutationResult, error) {
	if _, err := s.requireWriter(ctx); err != nil {
		return MutationResult{}, err
	}

	prev, err := s.store.GetBreakdown(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}
	if err := s.store.DeleteBreakdown(ctx, id); err != nil {
		return MutationResult{}, fmt.Errorf("delete breakdown: %w", err)
	}

	s.activity.Log(ctx, core.ActivityEntry{
		Action:     core.ActionDeleted,
		EntityType: core.EntityBreakdowns,
		EntityID:   id,
		Snapshot:   prev.Snapshot(),
	})

	status, stale := s.recalcParents(ctx, parentsOf(prev.ProjectID))
	return MutationResult{ID: id, RollupStatus: status, StaleProjectIDs: stale}, nil
}

// CreateMany inserts every valid item, logs one batch, then recalculates
// each affected parent exactly once regardless of how many children it
// gained.
func (s *BreakdownService) CreateMany(ctx context.Context, items []core.Breakdown) (BatchResult, error) {
	principal, err := s.requireWriter(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{
		IDs:        make([]string, len(items)),
		ItemErrors: make([]error, len(items)),
	}
	var entries []core.ActivityEntry
	var parents []string

	for i, b := range items {
		if err := b.Validate(); err != nil {
			result.ItemErrors[i] = err
			continue
		}
		if err := s.requireProject(ctx, b.ProjectID); err != nil {
			result.ItemErrors[i] = err
			continue
		}
		b.CreatedBy = principal.ID
		b.UpdatedBy = principal.ID
		id, err := s.store.InsertBreakdown(ctx, b)
		if err != nil {
			result.ItemErrors[i] = fmt.Errorf("insert breakdown: %w", err)
			continue
		}
		result.IDs[i] = id
		entries = append(entries, core.ActivityEntry{
			Action:     core.ActionCreated,
			EntityType: core.EntityBreakdowns,
			EntityID:   id,
			Snapshot:   s.snapshotOf(ctx, id),
		})
		parents = append(parents, b.ProjectID)
	}

	if len(entries) > 0 {
		result.BatchID = s.activity.LogBatch(ctx, entries)
	}
	result.RollupStatus, result.StaleProjectIDs = s.recalcParents(ctx, parentsOf(parents...))
	return result, nil
}

// ImportMany converts decimal-amount rows and creates them as one batch.
// Rows whose amounts fail to parse get their error in ItemErrors and are
// skipped; the rest go through CreateMany so the batch keeps its one-recalc-
// per-parent behavior.
func (s *BreakdownService) ImportMany(ctx context.Context, rows []BreakdownImport) (BatchResult, error) {
	parseErrs := make([]error, len(rows))
	items := make([]core.Breakdown, 0, len(rows))
	indexes := make([]int, 0, len(rows))

	for i, row := range rows {
		b, err := row.toBreakdown()
		if err != nil {
			parseErrs[i] = err
			continue
		}
		items = append(items, b)
		indexes = append(indexes, i)
	}

	batch, err := s.CreateMany(ctx, items)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{
		IDs:             make([]string, len(rows)),
		BatchID:         batch.BatchID,
		ItemErrors:      parseErrs,
		RollupStatus:    batch.RollupStatus,
		StaleProjectIDs: batch.StaleProjectIDs,
	}
	for j, i := range indexes {
		result.IDs[i] = batch.IDs[j]
		result.ItemErrors[i] = batch.ItemErrors[j]
	}
	return result, nil
}

func (r BreakdownImport) toBreakdown() (core.Breakdown, error) {
	allocated, err := core.ParseAmountToCentavos(r.Allocated)
	if err != nil {
		return core.Breakdown{}, fmt.Errorf("allocated %q: %w", r.Allocated, err)
	}
	utilized, err := core.ParseAmountToCentavos(r.Utilized)
	if err != nil {
		return core.Breakdown{}, fmt.Errorf("utilized %q: %w", r.Utilized, err)
	}
	return core.Breakdown{
		ProjectID:    r.ProjectID,
		Name:         r.Name,
		Office:       r.Office,
		Municipality: r.Municipality,
		Status:       r.Status,
		Allocated:    core.Money{Centavos: allocated},
		Utilized:     core.Money{Centavos: utilized},
		Manager:      r.Manager,
		TargetDate:   r.TargetDate,
		Remarks:      r.Remarks,
	}, nil
}

func (s *BreakdownService) UpdateMany(ctx context.Context, updates []BreakdownUpdate) (BatchResult, error) {
	principal, err := s.requireWriter(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{
		IDs:        make([]string, len(updates)),
		ItemErrors: make([]error, len(updates)),
	}
	var entries []core.ActivityEntry
	var parents []string

	for i, u := range updates {
		prev, err := s.store.GetBreakdown(ctx, u.ID)
		if err != nil {
			result.ItemErrors[i] = err
			continue
		}
		merged := applyPatch(*prev, u.Patch)
		if err := merged.Validate(); err != nil {
			result.ItemErrors[i] = err
			continue
		}
		if u.Patch.ProjectID != nil && *u.Patch.ProjectID != prev.ProjectID {
			if err := s.requireProject(ctx, *u.Patch.ProjectID); err != nil {
				result.ItemErrors[i] = err
				continue
			}
		}
		u.Patch.UpdatedBy = principal.ID
		if err := s.store.PatchBreakdown(ctx, u.ID, u.Patch); err != nil {
			result.ItemErrors[i] = fmt.Errorf("patch breakdown: %w", err)
			continue
		}
		next, err := s.store.GetBreakdown(ctx, u.ID)
		if err != nil {
			m := merged
			next = &m
		}
		result.IDs[i] = u.ID
		entries = append(entries, core.ActivityEntry{
			Action:         core.ActionUpdated,
			EntityType:     core.EntityBreakdowns,
			EntityID:       u.ID,
			Snapshot:       next.Snapshot(),
			PreviousValues: prev.Snapshot(),
			NewValues:      next.Snapshot(),
		})
		parents = append(parents, prev.ProjectID, next.ProjectID)
	}

	if len(entries) > 0 {
		result.BatchID = s.activity.LogBatch(ctx, entries)
	}
	result.RollupStatus, result.StaleProjectIDs = s.recalcParents(ctx, parentsOf(parents...))
	return result, nil
}

func (s *BreakdownService) DeleteMany(ctx context.Context, ids []string) (BatchResult, error) {
	if _, err := s.requireWriter(ctx); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{
		IDs:        make([]string, len(ids)),
		ItemErrors: make([]error, len(ids)),
	}
	var entries []core.ActivityEntry
	var parents []string

	for i, id := range ids {
		prev, err := s.store.GetBreakdown(ctx, id)
		if err != nil {
			result.ItemErrors[i] = err
			continue
		}
		if err := s.store.DeleteBreakdown(ctx, id); err != nil {
			result.ItemErrors[i] = fmt.Errorf("delete breakdown: %w", err)
			continue
		}
		result.IDs[i] = id
		entries = append(entries, core.ActivityEntry{
			Action:     core.ActionDeleted,
			EntityType: core.EntityBreakdowns,
			EntityID:   id,
			Snapshot:   prev.Snapshot(),
		})
		parents = append(parents, prev.ProjectID)
	}

	if len(entries) > 0 {
		result.BatchID = s.activity.LogBatch(ctx, entries)
	}
	result.RollupStatus, result.StaleProjectIDs = s.recalcParents(ctx, parentsOf(parents...))
	return result, nil
}

func (s *BreakdownService) Get(ctx context.Context, id string) (*core.Breakdown, error) {
	return s.store.GetBreakdown(ctx, id)
}

func (s *BreakdownService) List(ctx context.Context, filter store.BreakdownFilter) ([]core.Breakdown, error) {
	return s.store.ListBreakdowns(ctx, filter)
}

// requireWriter resolves the principal and rejects read-only roles.
func (s *BreakdownService) requireWriter(ctx context.Context) (*identity.Principal, error) {
	principal, err := s.identity.Current(ctx)
	if err != nil {
		return nil, err
	}
	if principal.Role == identity.RoleViewer {
		return nil, core.ErrForbidden
	}
	return principal, nil
}

// requireProject verifies the FK target exists. Empty means unlinked.
func (s *BreakdownService) requireProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return nil
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}
	return nil
}

// recalcParents recalculates each affected parent sequentially. A failed
// recalc marks the result stale and hands the parent to the repair queue;
// the mutation itself already succeeded.
func (s *BreakdownService) recalcParents(ctx context.Context, parents []string) (RollupStatus, []string) {
	var stale []string
	for _, projectID := range parents {
		if _, err := s.recalc.Recalc(ctx, projectID); err != nil {
			slog.ErrorContext(ctx, "Parent recalculation failed",
				"project_id", projectID, "error", err)
			stale = append(stale, projectID)
			s.requestRepair(ctx, projectID, err)
		}
	}
	if len(stale) > 0 {
		return RollupStale, stale
	}
	return RollupConsistent, nil
}

func (s *BreakdownService) requestRepair(ctx context.Context, projectID string, cause error) {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping repair request",
			"project_id", projectID)
		return
	}
	if err := s.amqpClient.PublishRecalcRequest(ctx, projectID, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to publish repair request",
			"project_id", projectID, "error", err)
		// Don't fail the request - the worker's full pass will converge it.
	}
}

// snapshotOf re-reads the stored row so the logged snapshot carries the
// store-stamped audit fields.
func (s *BreakdownService) snapshotOf(ctx context.Context, id string) map[string]any {
	b, err := s.store.GetBreakdown(ctx, id)
	if err != nil {
		return map[string]any{"id": id}
	}
	return b.Snapshot()
}

// parentsOf dedupes project ids preserving first-seen order and dropping
// empties. A mutation touches at most two parents; a batch, one per unique
// project.
func parentsOf(projectIDs ...string) []string {
	seen := make(map[string]struct{}, len(projectIDs))
	var out []string
	for _, id := range projectIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func applyPatch(b core.Breakdown, patch store.BreakdownPatch) core.Breakdown {
	if patch.ProjectID != nil {
		b.ProjectID = *patch.ProjectID
	}
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.Office != nil {
		b.Office = *patch.Office
	}
	if patch.Municipality != nil {
		b.Municipality = *patch.Municipality
	}
	if patch.Status != nil {
		b.Status = *patch.Status
	}
	if patch.Allocated != nil {
		b.Allocated = *patch.Allocated
	}
	if patch.Utilized != nil {
		b.Utilized = *patch.Utilized
	}
	if patch.Manager != nil {
		b.Manager = *patch.Manager
	}
	if patch.TargetDate != nil {
		b.TargetDate = *patch.TargetDate
	}
	if patch.Remarks != nil {
		b.Remarks = *patch.Remarks
	}
	return b
}
