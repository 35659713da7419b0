package services

import (
	"context"
	"errors"
	"testing"

	"obras/internal/core"
	"obras/internal/identity"
	"obras/internal/store"
	"obras/internal/store/memory"
)

type failingActivityStore struct {
	store.ActivityStore
}

func (failingActivityStore) InsertActivity(context.Context, core.ActivityRecord) (string, error) {
	return "", errors.New("disk full")
}

func TestLogRecordsActor(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	logger := NewActivityLogger(mem, engineerResolver(), nil)

	logger.Log(ctx, core.ActivityEntry{
		Action:     core.ActionCreated,
		EntityType: core.EntityBreakdowns,
		EntityID:   "b1",
		Snapshot:   map[string]any{"name": "Drainage canal"},
		Reason:     "initial encoding",
	})

	records, err := mem.ListActivities(ctx, core.EntityBreakdowns, "b1", 10)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.ActorID != "eng-1" || rec.ActorName != "Engineer One" || rec.ActorRole != identity.RoleEngineer {
		t.Errorf("actor = %s/%s/%s", rec.ActorID, rec.ActorName, rec.ActorRole)
	}
	if rec.Reason != "initial encoding" {
		t.Errorf("Reason = %q", rec.Reason)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
}

func TestLogFallsBackToSystemActor(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	logger := NewActivityLogger(mem, identity.StaticResolver{}, nil)

	logger.Log(ctx, core.ActivityEntry{
		Action:     core.ActionDeleted,
		EntityType: core.EntityBreakdowns,
		EntityID:   "b1",
	})

	records, _ := mem.ListActivities(ctx, core.EntityBreakdowns, "b1", 10)
	if len(records) != 1 {
		t.Fatalf("resolution failure must not suppress the record, got %d", len(records))
	}
	if records[0].ActorID != "system" {
		t.Errorf("ActorID = %q, want system", records[0].ActorID)
	}
}

func TestLogUpdateDiffsSnapshots(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	logger := NewActivityLogger(mem, engineerResolver(), nil)

	prev := core.Breakdown{ID: "b1", Name: "Canal", Office: "PEO", Status: core.StatusOngoing, Allocated: core.Money{Centavos: 100}}
	next := prev
	next.Status = core.StatusCompleted
	next.Allocated = core.Money{Centavos: 250}

	logger.Log(ctx, core.ActivityEntry{
		Action:         core.ActionUpdated,
		EntityType:     core.EntityBreakdowns,
		EntityID:       "b1",
		Snapshot:       next.Snapshot(),
		PreviousValues: prev.Snapshot(),
		NewValues:      next.Snapshot(),
	})

	records, _ := mem.ListActivities(ctx, core.EntityBreakdowns, "b1", 10)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if len(rec.ChangedFields) != 2 || rec.ChangedFields[0] != "allocated" || rec.ChangedFields[1] != "status" {
		t.Errorf("ChangedFields = %v, want [allocated status]", rec.ChangedFields)
	}
	if !rec.ChangeSummary.StatusChanged || rec.ChangeSummary.OldStatus != "ongoing" || rec.ChangeSummary.NewStatus != "completed" {
		t.Errorf("status summary = %+v", rec.ChangeSummary)
	}
	if !rec.ChangeSummary.BudgetChanged || *rec.ChangeSummary.OldBudget != 100 || *rec.ChangeSummary.NewBudget != 250 {
		t.Errorf("budget summary = %+v", rec.ChangeSummary)
	}
}

func TestLogContainsStoreFailure(t *testing.T) {
	logger := NewActivityLogger(failingActivityStore{}, engineerResolver(), nil)

	// Must not panic or surface the error.
	logger.Log(context.Background(), core.ActivityEntry{
		Action:     core.ActionCreated,
		EntityType: core.EntityBreakdowns,
		EntityID:   "b1",
	})
}

func TestLogBatchSharesBatchID(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	logger := NewActivityLogger(mem, engineerResolver(), nil)

	entries := []core.ActivityEntry{
		{Action: core.ActionCreated, EntityType: core.EntityBreakdowns, EntityID: "b1"},
		{Action: core.ActionCreated, EntityType: core.EntityBreakdowns, EntityID: "b2"},
		{Action: core.ActionCreated, EntityType: core.EntityBreakdowns, EntityID: "b3"},
	}
	batchID := logger.LogBatch(ctx, entries)
	if batchID == "" {
		t.Fatal("empty batch id")
	}

	records, err := logger.List(ctx, core.EntityBreakdowns, "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for _, rec := range records {
		if rec.BatchID != batchID {
			t.Errorf("record %s batch = %q, want %q", rec.EntityID, rec.BatchID, batchID)
		}
	}
}
