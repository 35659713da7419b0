package core

import (
	"errors"
	"testing"
)

func sumConfig(t *testing.T) AggregationConfig {
	t.Helper()
	cfg, err := NewAggregationConfig(EntityBreakdowns, "project_office").
		GroupBy("proj", "office").
		Sum("allocated").
		Build()
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	return cfg
}

func TestComputeAggregationSum(t *testing.T) {
	items := []map[string]any{
		{"proj": "X", "office": "Y", "allocated": 100},
		{"proj": "X", "office": "Y", "allocated": 200},
	}
	comp, err := ComputeAggregation(items, sumConfig(t))
	if err != nil {
		t.Fatalf("ComputeAggregation: %v", err)
	}
	if comp.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2", comp.RowCount)
	}
	if comp.Values[0] == nil || *comp.Values[0] != 300 {
		t.Errorf("Values[0] = %v, want 300", comp.Values[0])
	}
	if comp.NamedValues["sum_allocated"] != 300 {
		t.Errorf("NamedValues[sum_allocated] = %v, want 300", comp.NamedValues["sum_allocated"])
	}
	if len(comp.GroupKeys) != 2 || comp.GroupKeys[0] != "X" || comp.GroupKeys[1] != "Y" {
		t.Errorf("GroupKeys = %v, want [X Y]", comp.GroupKeys)
	}
}

func TestComputeAggregationEmptyInput(t *testing.T) {
	_, err := ComputeAggregation(nil, sumConfig(t))
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestComputeAggregationSumTreatsNonNumericAsZero(t *testing.T) {
	items := []map[string]any{
		{"proj": "X", "office": "Y", "allocated": 100},
		{"proj": "X", "office": "Y", "allocated": "n/a"},
		{"proj": "X", "office": "Y"},
	}
	comp, err := ComputeAggregation(items, sumConfig(t))
	if err != nil {
		t.Fatalf("ComputeAggregation: %v", err)
	}
	if *comp.Values[0] != 100 {
		t.Errorf("sum = %v, want 100", *comp.Values[0])
	}
}

func TestComputeAggregationAvgOverNumericOnly(t *testing.T) {
	cfg, err := NewAggregationConfig(EntityBreakdowns, "office").
		GroupBy("office").
		Avg("allocated").
		Build()
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	items := []map[string]any{
		{"office": "PEO", "allocated": 100},
		{"office": "PEO", "allocated": "broken"},
		{"office": "PEO", "allocated": 200},
	}
	comp, err := ComputeAggregation(items, cfg)
	if err != nil {
		t.Fatalf("ComputeAggregation: %v", err)
	}
	// Mean over the two numeric rows, not three.
	if comp.Values[0] == nil || *comp.Values[0] != 150 {
		t.Errorf("avg = %v, want 150", comp.Values[0])
	}
}

func TestComputeAggregationUndefinedResultsOmitted(t *testing.T) {
	cfg, err := NewAggregationConfig(EntityBreakdowns, "office").
		GroupBy("office").
		Avg("allocated").Min("allocated").Max("allocated").Count("allocated").
		Build()
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	items := []map[string]any{
		{"office": "PEO", "allocated": "none"},
	}
	comp, err := ComputeAggregation(items, cfg)
	if err != nil {
		t.Fatalf("ComputeAggregation: %v", err)
	}
	for i := 0; i < 3; i++ {
		if comp.Values[i] != nil {
			t.Errorf("Values[%d] = %v, want nil (undefined)", i, *comp.Values[i])
		}
	}
	for _, key := range []string{"avg_allocated", "min_allocated", "max_allocated"} {
		if _, ok := comp.NamedValues[key]; ok {
			t.Errorf("NamedValues contains %s, undefined results must be omitted", key)
		}
	}
	// count counts non-nil values regardless of type.
	if comp.NamedValues["count_allocated"] != 1 {
		t.Errorf("count = %v, want 1", comp.NamedValues["count_allocated"])
	}
}

func TestComputeAggregationMinMax(t *testing.T) {
	cfg, err := NewAggregationConfig(EntityBreakdowns, "office").
		GroupBy("office").
		Min("allocated").Max("allocated").
		Build()
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	items := []map[string]any{
		{"office": "PEO", "allocated": 500},
		{"office": "PEO", "allocated": 100},
		{"office": "PEO", "allocated": 300},
	}
	comp, err := ComputeAggregation(items, cfg)
	if err != nil {
		t.Fatalf("ComputeAggregation: %v", err)
	}
	if *comp.Values[0] != 100 {
		t.Errorf("min = %v, want 100", *comp.Values[0])
	}
	if *comp.Values[1] != 500 {
		t.Errorf("max = %v, want 500", *comp.Values[1])
	}
}

func TestComputeAggregationGroupKeyFromFirstItem(t *testing.T) {
	// Heterogeneous input is the caller's mistake: the key comes from item 0.
	items := []map[string]any{
		{"proj": "X", "office": "A", "allocated": 1},
		{"proj": "X", "office": "B", "allocated": 2},
	}
	comp, err := ComputeAggregation(items, sumConfig(t))
	if err != nil {
		t.Fatalf("ComputeAggregation: %v", err)
	}
	if comp.GroupKeys[1] != "A" {
		t.Errorf("group key office = %q, want A (from first item)", comp.GroupKeys[1])
	}
}

func TestComputeAggregationDefaultLabel(t *testing.T) {
	cfg, err := NewAggregationConfig(EntityBreakdowns, "office").
		GroupBy("office").
		Sum("allocated").
		Build()
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	comp, err := ComputeAggregation([]map[string]any{{"office": "PEO", "allocated": 1}}, cfg)
	if err != nil {
		t.Fatalf("ComputeAggregation: %v", err)
	}
	if comp.DisplayLabel != "breakdowns office" {
		t.Errorf("DisplayLabel = %q, want %q", comp.DisplayLabel, "breakdowns office")
	}
}

func TestAggregationConfigValidate(t *testing.T) {
	_, err := NewAggregationConfig("", "x").GroupBy("a").Sum("b").Build()
	if err == nil {
		t.Error("expected error for empty entity type")
	}

	_, err = NewAggregationConfig("e", "x").Sum("b").Build()
	if err == nil {
		t.Error("expected error for missing group fields")
	}

	_, err = NewAggregationConfig("e", "x").
		GroupBy("a", "b", "c", "d", "e", "f").Sum("v").Build()
	if err == nil {
		t.Error("expected error for more than 5 group fields")
	}

	b := NewAggregationConfig("e", "x").GroupBy("a")
	for i := 0; i < 11; i++ {
		b.Sum("v")
	}
	if _, err := b.Build(); err == nil {
		t.Error("expected error for more than 10 aggregate fields")
	}
}

func TestBreakdownConfigFactories(t *testing.T) {
	for _, cfg := range []AggregationConfig{
		BreakdownByProjectOffice(),
		BreakdownByOffice(),
		BreakdownByMunicipality(),
	} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("factory config %s/%s invalid: %v", cfg.EntityType, cfg.AggregationType, err)
		}
	}
}
