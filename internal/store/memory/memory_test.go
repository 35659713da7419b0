package memory

import (
	"context"
	"errors"
	"testing"

	"obras/internal/core"
	"obras/internal/store"
)

func TestBreakdownCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.InsertBreakdown(ctx, core.Breakdown{
		Name:   "Slope protection",
		Office: "PEO",
		Status: core.StatusOngoing,
	})
	if err != nil {
		t.Fatalf("InsertBreakdown: %v", err)
	}

	b, err := s.GetBreakdown(ctx, id)
	if err != nil {
		t.Fatalf("GetBreakdown: %v", err)
	}
	if b.Name != "Slope protection" || b.CreatedAt.IsZero() {
		t.Errorf("unexpected breakdown: %+v", b)
	}

	status := core.StatusCompleted
	if err := s.PatchBreakdown(ctx, id, store.BreakdownPatch{Status: &status, UpdatedBy: "u1"}); err != nil {
		t.Fatalf("PatchBreakdown: %v", err)
	}
	b, _ = s.GetBreakdown(ctx, id)
	if b.Status != core.StatusCompleted || b.UpdatedBy != "u1" {
		t.Errorf("patch not applied: %+v", b)
	}
	if b.Name != "Slope protection" {
		t.Errorf("nil patch fields must stay untouched, name = %q", b.Name)
	}

	if err := s.DeleteBreakdown(ctx, id); err != nil {
		t.Fatalf("DeleteBreakdown: %v", err)
	}
	if _, err := s.GetBreakdown(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListBreakdownsFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	pid, _ := s.InsertProject(ctx, core.Project{Name: "Roads 2026"})
	s.InsertBreakdown(ctx, core.Breakdown{Name: "Road A", Office: "PEO", Municipality: "Baler", Status: core.StatusOngoing, ProjectID: pid})
	s.InsertBreakdown(ctx, core.Breakdown{Name: "Bridge B", Office: "DPWH", Municipality: "Dingalan", Status: core.StatusCompleted, ProjectID: pid})
	s.InsertBreakdown(ctx, core.Breakdown{Name: "Road C", Office: "PEO", Municipality: "Casiguran", Status: core.StatusOngoing})

	byProject, _ := s.ListBreakdowns(ctx, store.BreakdownFilter{ProjectID: pid})
	if len(byProject) != 2 {
		t.Errorf("by project: got %d, want 2", len(byProject))
	}

	byStatus, _ := s.ListBreakdowns(ctx, store.BreakdownFilter{Status: core.StatusCompleted})
	if len(byStatus) != 1 || byStatus[0].Name != "Bridge B" {
		t.Errorf("by status: got %+v", byStatus)
	}

	bySearch, _ := s.ListBreakdowns(ctx, store.BreakdownFilter{Search: "road"})
	if len(bySearch) != 2 {
		t.Errorf("by search: got %d, want 2", len(bySearch))
	}

	limited, _ := s.ListBreakdowns(ctx, store.BreakdownFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("limit: got %d, want 1", len(limited))
	}
}

func TestProjectRollupPatchStampsAudit(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, _ := s.InsertProject(ctx, core.Project{Name: "Flood control"})
	err := s.PatchProjectRollup(ctx, id, core.RecalcResult{Completed: 2, OnTrack: 1, BreakdownCount: 3}, "system")
	if err != nil {
		t.Fatalf("PatchProjectRollup: %v", err)
	}

	p, _ := s.GetProject(ctx, id)
	if p.Completed != 2 || p.OnTrack != 1 || p.BreakdownCount != 3 {
		t.Errorf("rollup not applied: %+v", p)
	}
	if p.UpdatedBy != "system" {
		t.Errorf("UpdatedBy = %q, want system", p.UpdatedBy)
	}

	if err := s.PatchProjectRollup(ctx, "missing", core.RecalcResult{}, "x"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindAggregationExactTuple(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, _ := s.InsertAggregation(ctx, core.AggregationRecord{
		EntityType:      "breakdowns",
		AggregationType: "project_office",
		GroupKeys:       []string{"p1", "PEO"},
		CreatedBy:       "u1",
	})

	found, err := s.FindAggregation(ctx, "breakdowns", "project_office", []string{"p1", "PEO"})
	if err != nil || found == nil {
		t.Fatalf("FindAggregation: %v, %v", found, err)
	}
	if found.ID != id {
		t.Errorf("found id = %s, want %s", found.ID, id)
	}

	miss, err := s.FindAggregation(ctx, "breakdowns", "project_office", []string{"p1", "PPDO"})
	if err != nil || miss != nil {
		t.Errorf("expected (nil, nil) miss, got %v, %v", miss, err)
	}
}

func TestPatchAggregationPreservesCreation(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, _ := s.InsertAggregation(ctx, core.AggregationRecord{
		EntityType:      "breakdowns",
		AggregationType: "office",
		GroupKeys:       []string{"PEO"},
		CreatedBy:       "original",
		RowCount:        1,
	})
	before, _ := s.GetAggregation(ctx, id)

	if err := s.PatchAggregation(ctx, id, core.AggregationRecord{RowCount: 9, DisplayLabel: "new"}); err != nil {
		t.Fatalf("PatchAggregation: %v", err)
	}
	after, _ := s.GetAggregation(ctx, id)
	if after.RowCount != 9 || after.DisplayLabel != "new" {
		t.Errorf("patch not applied: %+v", after)
	}
	if after.CreatedBy != "original" || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Errorf("creation attribution must be preserved: %+v", after)
	}
}

func TestActivityAppendOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.InsertActivity(ctx, core.ActivityRecord{EntityType: "breakdowns", EntityID: "b1", Action: "created"})
	s.InsertActivity(ctx, core.ActivityRecord{EntityType: "breakdowns", EntityID: "b1", Action: "updated"})
	s.InsertActivity(ctx, core.ActivityRecord{EntityType: "breakdowns", EntityID: "b2", Action: "created"})

	got, err := s.ListActivities(ctx, "breakdowns", "b1", 0)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d activities, want 2", len(got))
	}
}
