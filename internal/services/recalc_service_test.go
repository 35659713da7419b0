package services

import (
	"context"
	"errors"
	"testing"

	"obras/internal/core"
	"obras/internal/identity"
	"obras/internal/store/memory"
)

func engineerResolver() identity.StaticResolver {
	return identity.StaticResolver{Principal: &identity.Principal{
		ID: "eng-1", Name: "Engineer One", Role: identity.RoleEngineer,
	}}
}

func adminResolver() identity.StaticResolver {
	return identity.StaticResolver{Principal: &identity.Principal{
		ID: "adm-1", Name: "Admin One", Role: identity.RoleAdmin,
	}}
}

func seedProject(t *testing.T, s *memory.Store, id string) {
	t.Helper()
	if _, err := s.InsertProject(context.Background(), core.Project{
		ID: id, Name: "Project " + id, Budget: core.Money{Centavos: 1_000_000_00},
	}); err != nil {
		t.Fatalf("InsertProject: %v", err)
	}
}

func seedBreakdown(t *testing.T, s *memory.Store, b core.Breakdown) string {
	t.Helper()
	id, err := s.InsertBreakdown(context.Background(), b)
	if err != nil {
		t.Fatalf("InsertBreakdown: %v", err)
	}
	return id
}

func TestRecalcCountersAndTotals(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := NewRecalcService(mem, mem, engineerResolver())

	seedProject(t, mem, "p1")
	seedBreakdown(t, mem, core.Breakdown{ProjectID: "p1", Name: "a", Office: "PEO", Status: core.StatusCompleted, Allocated: core.Money{Centavos: 100}, Utilized: core.Money{Centavos: 50}})
	seedBreakdown(t, mem, core.Breakdown{ProjectID: "p1", Name: "b", Office: "PEO", Status: core.StatusDelayed, Allocated: core.Money{Centavos: 200}})
	seedBreakdown(t, mem, core.Breakdown{ProjectID: "p1", Name: "c", Office: "PEO", Status: core.StatusOngoing, Utilized: core.Money{Centavos: 25}})
	seedBreakdown(t, mem, core.Breakdown{ProjectID: "p1", Name: "d", Office: "PEO", Status: core.Status("cancelled")})

	result, err := svc.Recalc(ctx, "p1")
	if err != nil {
		t.Fatalf("Recalc: %v", err)
	}
	if result.BreakdownCount != 4 {
		t.Errorf("BreakdownCount = %d, want 4", result.BreakdownCount)
	}
	if result.Completed != 1 || result.Delayed != 1 || result.OnTrack != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1", result.Completed, result.Delayed, result.OnTrack)
	}
	if result.Unrecognized != 1 {
		t.Errorf("Unrecognized = %d, want 1", result.Unrecognized)
	}
	// Counter-sum invariant: buckets cover exactly the recognized children.
	if result.Completed+result.Delayed+result.OnTrack != result.BreakdownCount-result.Unrecognized {
		t.Error("bucket sum must equal recognized child count")
	}
	if result.TotalAllocated.Centavos != 300 || result.TotalUtilized.Centavos != 75 {
		t.Errorf("totals = %d/%d, want 300/75", result.TotalAllocated.Centavos, result.TotalUtilized.Centavos)
	}

	p, err := mem.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.Completed != 1 || p.BreakdownCount != 4 || p.TotalAllocated.Centavos != 300 {
		t.Errorf("parent not patched: %+v", p)
	}
	if p.UpdatedBy != "eng-1" {
		t.Errorf("UpdatedBy = %q, want eng-1", p.UpdatedBy)
	}
}

func TestRecalcIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := NewRecalcService(mem, mem, engineerResolver())

	seedProject(t, mem, "p1")
	seedBreakdown(t, mem, core.Breakdown{ProjectID: "p1", Name: "a", Office: "PEO", Status: core.StatusCompleted})

	first, err := svc.Recalc(ctx, "p1")
	if err != nil {
		t.Fatalf("first Recalc: %v", err)
	}
	second, err := svc.Recalc(ctx, "p1")
	if err != nil {
		t.Fatalf("second Recalc: %v", err)
	}
	if first != second {
		t.Errorf("recalc not idempotent: %+v vs %+v", first, second)
	}
}

func TestRecalcZeroReset(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := NewRecalcService(mem, mem, engineerResolver())

	seedProject(t, mem, "p1")
	id := seedBreakdown(t, mem, core.Breakdown{ProjectID: "p1", Name: "a", Office: "PEO", Status: core.StatusCompleted, Allocated: core.Money{Centavos: 500}})
	if _, err := svc.Recalc(ctx, "p1"); err != nil {
		t.Fatalf("Recalc: %v", err)
	}

	if err := mem.DeleteBreakdown(ctx, id); err != nil {
		t.Fatalf("DeleteBreakdown: %v", err)
	}
	result, err := svc.Recalc(ctx, "p1")
	if err != nil {
		t.Fatalf("Recalc after delete: %v", err)
	}
	if result != (core.RecalcResult{}) {
		t.Errorf("expected zero reset, got %+v", result)
	}

	p, _ := mem.GetProject(ctx, "p1")
	if p.Completed != 0 || p.BreakdownCount != 0 || p.TotalAllocated.Centavos != 0 {
		t.Errorf("parent not reset: %+v", p)
	}
}

func TestRecalcManyIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := NewRecalcService(mem, mem, engineerResolver())

	seedProject(t, mem, "p1")
	seedProject(t, mem, "p3")
	seedBreakdown(t, mem, core.Breakdown{ProjectID: "p3", Name: "a", Office: "PEO", Status: core.StatusOngoing})

	outcomes := svc.RecalcMany(ctx, []string{"p1", "p2-missing", "p3"})
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	if outcomes[0].Err != nil {
		t.Errorf("p1 err = %v", outcomes[0].Err)
	}
	if !errors.Is(outcomes[1].Err, core.ErrNotFound) {
		t.Errorf("missing project err = %v, want ErrNotFound", outcomes[1].Err)
	}
	if outcomes[2].Err != nil || outcomes[2].Result.OnTrack != 1 {
		t.Errorf("p3 outcome = %+v, failure must not abort the rest", outcomes[2])
	}
}

func TestRecalcAllRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedProject(t, mem, "p1")

	engineer := NewRecalcService(mem, mem, engineerResolver())
	if _, err := engineer.RecalcAll(ctx); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("engineer RecalcAll err = %v, want ErrForbidden", err)
	}

	admin := NewRecalcService(mem, mem, adminResolver())
	outcomes, err := admin.RecalcAll(ctx)
	if err != nil {
		t.Fatalf("admin RecalcAll: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].ProjectID != "p1" {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestVerifyDetectsDrift(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	svc := NewRecalcService(mem, mem, engineerResolver())

	seedProject(t, mem, "p1")
	seedBreakdown(t, mem, core.Breakdown{ProjectID: "p1", Name: "a", Office: "PEO", Status: core.StatusCompleted})

	consistent, _, err := svc.Verify(ctx, "p1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if consistent {
		t.Error("stored zeros with one child must read as drifted")
	}

	if _, err := svc.Recalc(ctx, "p1"); err != nil {
		t.Fatalf("Recalc: %v", err)
	}
	consistent, expected, err := svc.Verify(ctx, "p1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !consistent {
		t.Errorf("expected consistent after recalc, expected tally %+v", expected)
	}
}
