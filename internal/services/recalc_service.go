package services

import (
	"context"
	"fmt"
	"log/slog"

	"obras/internal/core"
	"obras/internal/identity"
	"obras/internal/store"
)

// RecalcOutcome is the per-project result of a multi-project pass.
type RecalcOutcome struct {
	ProjectID string
	Result    core.RecalcResult
	Err       error
}

// RecalcService re-derives project rollup fields from children. It never
// adjusts incrementally: every call is a full re-read of the project's
// breakdowns, which makes the operation idempotent and self-repairing.
type RecalcService struct {
	breakdowns store.BreakdownStore
	projects   store.ProjectStore
	identity   identity.Resolver
}

func NewRecalcService(breakdowns store.BreakdownStore, projects store.ProjectStore, resolver identity.Resolver) *RecalcService {
	return &RecalcService{
		breakdowns: breakdowns,
		projects:   projects,
		identity:   resolver,
	}
}

// Recalc re-derives one project's counters and totals and patches the parent.
// The patch happens even when nothing changed, so updatedAt/updatedBy always
// record the pass; a project with no children gets an explicit zero reset.
func (s *RecalcService) Recalc(ctx context.Context, projectID string) (core.RecalcResult, error) {
	children, err := s.breakdowns.ListBreakdownsByProject(ctx, projectID)
	if err != nil {
		return core.RecalcResult{}, fmt.Errorf("list breakdowns for project %s: %w", projectID, err)
	}

	result := Tally(children)

	actor, err := s.identity.Current(ctx)
	if err != nil {
		actor = identity.System()
	}

	if err := s.projects.PatchProjectRollup(ctx, projectID, result, actor.ID); err != nil {
		return core.RecalcResult{}, fmt.Errorf("patch project %s rollup: %w", projectID, err)
	}

	slog.InfoContext(ctx, "Project rollup recalculated",
		"project_id", projectID,
		"breakdown_count", result.BreakdownCount,
		"completed", result.Completed,
		"delayed", result.Delayed,
		"on_track", result.OnTrack,
		"unrecognized", result.Unrecognized)

	return result, nil
}

// RecalcMany recalculates each project in turn. Ids are isolated: one
// failure never aborts the rest.
func (s *RecalcService) RecalcMany(ctx context.Context, projectIDs []string) []RecalcOutcome {
	outcomes := make([]RecalcOutcome, 0, len(projectIDs))
	for _, id := range projectIDs {
		result, err := s.Recalc(ctx, id)
		outcomes = append(outcomes, RecalcOutcome{ProjectID: id, Result: result, Err: err})
	}
	return outcomes
}

// RecalcAll recalculates every project in the store. Requires the admin role.
func (s *RecalcService) RecalcAll(ctx context.Context) ([]RecalcOutcome, error) {
	actor, err := s.identity.Current(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role != identity.RoleAdmin {
		return nil, core.ErrForbidden
	}

	ids, err := s.projects.ListProjectIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list project ids: %w", err)
	}
	return s.RecalcMany(ctx, ids), nil
}

// Verify recomputes the expected rollup and compares it against the stored
// parent without writing anything.
func (s *RecalcService) Verify(ctx context.Context, projectID string) (bool, core.RecalcResult, error) {
	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return false, core.RecalcResult{}, fmt.Errorf("get project %s: %w", projectID, err)
	}
	children, err := s.breakdowns.ListBreakdownsByProject(ctx, projectID)
	if err != nil {
		return false, core.RecalcResult{}, fmt.Errorf("list breakdowns for project %s: %w", projectID, err)
	}

	expected := Tally(children)
	consistent := project.Completed == expected.Completed &&
		project.Delayed == expected.Delayed &&
		project.OnTrack == expected.OnTrack &&
		project.BreakdownCount == expected.BreakdownCount &&
		project.TotalAllocated == expected.TotalAllocated &&
		project.TotalUtilized == expected.TotalUtilized
	return consistent, expected, nil
}

// Tally buckets children into the three status counters and sums the
// financial totals. Unrecognized statuses are counted separately and land in
// no bucket, keeping Completed+Delayed+OnTrack equal to the number of
// recognized children.
func Tally(children []core.Breakdown) core.RecalcResult {
	var result core.RecalcResult
	for _, child := range children {
		result.BreakdownCount++
		result.TotalAllocated.Centavos += child.Allocated.Centavos
		result.TotalUtilized.Centavos += child.Utilized.Centavos

		switch child.Status {
		case core.StatusCompleted:
			result.Completed++
		case core.StatusDelayed:
			result.Delayed++
		case core.StatusOngoing:
			result.OnTrack++
		default:
			result.Unrecognized++
		}
	}
	return result
}
