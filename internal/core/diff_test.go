package core

import (
	"reflect"
	"testing"
	"time"
)

func TestChangedFieldsStatusChange(t *testing.T) {
	prev := map[string]any{"status": "ongoing", "name": "Road works"}
	next := map[string]any{"status": "completed", "name": "Road works"}

	changed := ChangedFields(EntityBreakdowns, prev, next)
	if !reflect.DeepEqual(changed, []string{"status"}) {
		t.Fatalf("ChangedFields = %v, want [status]", changed)
	}

	summary := Summarize(EntityBreakdowns, changed, prev, next)
	if !summary.StatusChanged {
		t.Error("StatusChanged = false, want true")
	}
	if summary.OldStatus != "ongoing" || summary.NewStatus != "completed" {
		t.Errorf("status transition = %q -> %q, want ongoing -> completed", summary.OldStatus, summary.NewStatus)
	}
	if summary.BudgetChanged || summary.ManagerChanged {
		t.Error("unrelated flags set")
	}
}

func TestChangedFieldsExcludesSystemFields(t *testing.T) {
	now := time.Now()
	prev := map[string]any{"id": "a", "updatedAt": now, "updatedBy": "u1", "name": "x"}
	next := map[string]any{"id": "b", "updatedAt": now.Add(time.Hour), "updatedBy": "u2", "name": "x"}

	if changed := ChangedFields(EntityBreakdowns, prev, next); len(changed) != 0 {
		t.Errorf("ChangedFields = %v, want empty (system fields excluded)", changed)
	}
}

func TestChangedFieldsExcludesDerivedProjectFields(t *testing.T) {
	prev := map[string]any{"completed": 1, "onTrack": 2, "totalAllocated": 100, "name": "P"}
	next := map[string]any{"completed": 5, "onTrack": 0, "totalAllocated": 900, "name": "P"}

	if changed := ChangedFields(EntityProjects, prev, next); len(changed) != 0 {
		t.Errorf("ChangedFields = %v, want empty (derived fields excluded)", changed)
	}
}

func TestChangedFieldsSerializedEquality(t *testing.T) {
	// int 5 and float64 5 serialize identically; different representations
	// of the same value are not a change.
	prev := map[string]any{"allocated": int64(5)}
	next := map[string]any{"allocated": float64(5)}

	if changed := ChangedFields(EntityBreakdowns, prev, next); len(changed) != 0 {
		t.Errorf("ChangedFields = %v, want empty (same serialized form)", changed)
	}
}

func TestChangedFieldsUnionOfKeys(t *testing.T) {
	prev := map[string]any{"remarks": "old note"}
	next := map[string]any{"manager": "E. Cruz"}

	changed := ChangedFields(EntityBreakdowns, prev, next)
	if !reflect.DeepEqual(changed, []string{"manager", "remarks"}) {
		t.Errorf("ChangedFields = %v, want [manager remarks]", changed)
	}
}

func TestSummarizeBudgetChange(t *testing.T) {
	prev := map[string]any{"allocated": 100}
	next := map[string]any{"allocated": 250}
	changed := ChangedFields(EntityBreakdowns, prev, next)

	summary := Summarize(EntityBreakdowns, changed, prev, next)
	if !summary.BudgetChanged {
		t.Fatal("BudgetChanged = false, want true")
	}
	if summary.OldBudget == nil || *summary.OldBudget != 100 {
		t.Errorf("OldBudget = %v, want 100", summary.OldBudget)
	}
	if summary.NewBudget == nil || *summary.NewBudget != 250 {
		t.Errorf("NewBudget = %v, want 250", summary.NewBudget)
	}
}

func TestSummarizeScheduleAndCategory(t *testing.T) {
	prev := map[string]any{"targetDate": "2026-06-30", "office": "PEO"}
	next := map[string]any{"targetDate": "2026-12-31", "office": "PPDO"}
	changed := ChangedFields(EntityBreakdowns, prev, next)

	summary := Summarize(EntityBreakdowns, changed, prev, next)
	if !summary.ScheduleChanged {
		t.Error("ScheduleChanged = false, want true")
	}
	if !summary.CategoryChanged {
		t.Error("CategoryChanged = false, want true")
	}
}

func TestSummarizeProjectManagerChange(t *testing.T) {
	prev := map[string]any{"manager": "A. Reyes"}
	next := map[string]any{"manager": "B. Santos"}
	changed := ChangedFields(EntityProjects, prev, next)

	summary := Summarize(EntityProjects, changed, prev, next)
	if !summary.ManagerChanged {
		t.Error("ManagerChanged = false, want true")
	}
}

func TestSummarizeUnknownEntityType(t *testing.T) {
	summary := Summarize("widgets", []string{"anything"}, nil, nil)
	if summary != (ChangeSummary{}) {
		t.Errorf("unknown entity summary = %+v, want zero", summary)
	}
}
