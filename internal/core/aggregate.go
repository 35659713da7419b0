package core

import (
	"fmt"
	"time"
)

const (
	AggSum   AggregateFunction = "sum"
	AggAvg   AggregateFunction = "avg"
	AggMin   AggregateFunction = "min"
	AggMax   AggregateFunction = "max"
	AggCount AggregateFunction = "count"
)

const (
	// MaxGroupFields is the width of the persisted group-key tuple.
	MaxGroupFields = 5
	// MaxAggregateFields is the number of positional value slots.
	MaxAggregateFields = 10
)

type (
	AggregateFunction string

	// AggregateField pairs a source field with the function applied to it.
	// Results land in the positional slot matching the field's position in
	// the config and in the named map under "{function}_{sourceField}".
	AggregateField struct {
		SourceField string
		Function    AggregateFunction
	}

	// LabelFunc renders a display label from the resolved group values.
	LabelFunc func(groupValues []any) string

	// AggregationConfig declares one grouped computation. It is
	// entity-agnostic: the engine only ever sees field names.
	AggregationConfig struct {
		EntityType      string
		AggregationType string
		GroupBy         []string
		Fields          []AggregateField
		Label           LabelFunc
	}

	// AggregationRecord is the persisted result of one grouped computation,
	// unique per (entity type, aggregation type, group-key tuple).
	AggregationRecord struct {
		ID              string
		EntityType      string
		AggregationType string
		GroupKeys       []string // ordered, up to MaxGroupFields
		Values          [MaxAggregateFields]*float64
		NamedValues     map[string]float64
		DisplayLabel    string
		RowCount        int64
		CreatedAt       time.Time
		CreatedBy       string
		UpdatedAt       time.Time
	}

	// AggregateComputation is the in-memory result before persistence.
	AggregateComputation struct {
		GroupValues  []any
		GroupKeys    []string
		Values       [MaxAggregateFields]*float64
		NamedValues  map[string]float64
		DisplayLabel string
		RowCount     int64
	}
)

func (f AggregateFunction) Valid() bool {
	switch f {
	case AggSum, AggAvg, AggMin, AggMax, AggCount:
		return true
	}
	return false
}

func (c AggregationConfig) Validate() error {
	if c.EntityType == "" || c.AggregationType == "" {
		return fmt.Errorf("aggregation config: entity type and aggregation type are required")
	}
	if len(c.GroupBy) == 0 || len(c.GroupBy) > MaxGroupFields {
		return fmt.Errorf("aggregation config: between 1 and %d group fields required, got %d", MaxGroupFields, len(c.GroupBy))
	}
	if len(c.Fields) == 0 || len(c.Fields) > MaxAggregateFields {
		return fmt.Errorf("aggregation config: between 1 and %d aggregate fields required, got %d", MaxAggregateFields, len(c.Fields))
	}
	for _, f := range c.Fields {
		if f.SourceField == "" {
			return fmt.Errorf("aggregation config: aggregate field with empty source")
		}
		if !f.Function.Valid() {
			return fmt.Errorf("aggregation config: unknown function %q", f.Function)
		}
	}
	return nil
}

// AggregationConfigBuilder assembles an AggregationConfig declaratively.
// One generic engine consumes the result; per-entity factories below produce
// the configurations, so no entity grows its own aggregation code.
type AggregationConfigBuilder struct {
	cfg AggregationConfig
}

func NewAggregationConfig(entityType, aggregationType string) *AggregationConfigBuilder {
	return &AggregationConfigBuilder{cfg: AggregationConfig{
		EntityType:      entityType,
		AggregationType: aggregationType,
	}}
}

func (b *AggregationConfigBuilder) GroupBy(fields ...string) *AggregationConfigBuilder {
	b.cfg.GroupBy = append(b.cfg.GroupBy, fields...)
	return b
}

func (b *AggregationConfigBuilder) Sum(field string) *AggregationConfigBuilder {
	return b.add(field, AggSum)
}

func (b *AggregationConfigBuilder) Avg(field string) *AggregationConfigBuilder {
	return b.add(field, AggAvg)
}

func (b *AggregationConfigBuilder) Min(field string) *AggregationConfigBuilder {
	return b.add(field, AggMin)
}

func (b *AggregationConfigBuilder) Max(field string) *AggregationConfigBuilder {
	return b.add(field, AggMax)
}

func (b *AggregationConfigBuilder) Count(field string) *AggregationConfigBuilder {
	return b.add(field, AggCount)
}

func (b *AggregationConfigBuilder) Label(fn LabelFunc) *AggregationConfigBuilder {
	b.cfg.Label = fn
	return b
}

func (b *AggregationConfigBuilder) add(field string, fn AggregateFunction) *AggregationConfigBuilder {
	b.cfg.Fields = append(b.cfg.Fields, AggregateField{SourceField: field, Function: fn})
	return b
}

func (b *AggregationConfigBuilder) Build() (AggregationConfig, error) {
	if err := b.cfg.Validate(); err != nil {
		return AggregationConfig{}, err
	}
	return b.cfg, nil
}

// BreakdownByProjectOffice groups breakdown subtotals per project and office.
func BreakdownByProjectOffice() AggregationConfig {
	cfg, _ := NewAggregationConfig(EntityBreakdowns, "project_office").
		GroupBy("projectId", "office").
		Sum("allocated").Sum("utilized").Count("id").
		Label(func(vals []any) string {
			return fmt.Sprintf("Project %v / %v", vals[0], vals[1])
		}).
		Build()
	return cfg
}

// BreakdownByOffice groups breakdown subtotals per implementing office.
func BreakdownByOffice() AggregationConfig {
	cfg, _ := NewAggregationConfig(EntityBreakdowns, "office").
		GroupBy("office").
		Sum("allocated").Sum("utilized").Avg("allocated").Count("id").
		Label(func(vals []any) string {
			return fmt.Sprintf("Office %v", vals[0])
		}).
		Build()
	return cfg
}

// BreakdownByMunicipality groups breakdown subtotals per municipality.
func BreakdownByMunicipality() AggregationConfig {
	cfg, _ := NewAggregationConfig(EntityBreakdowns, "municipality").
		GroupBy("municipality").
		Sum("allocated").Min("allocated").Max("allocated").Count("id").
		Label(func(vals []any) string {
			return fmt.Sprintf("Municipality %v", vals[0])
		}).
		Build()
	return cfg
}

// ComputeAggregation evaluates cfg over items. Items are assumed to already
// share identical values on every group field; the group key is resolved from
// the first item only, so partitioning a mixed list is the caller's job.
func ComputeAggregation(items []map[string]any, cfg AggregationConfig) (AggregateComputation, error) {
	if len(items) == 0 {
		return AggregateComputation{}, ErrEmptyInput
	}
	if err := cfg.Validate(); err != nil {
		return AggregateComputation{}, err
	}

	comp := AggregateComputation{
		RowCount:    int64(len(items)),
		NamedValues: make(map[string]float64, len(cfg.Fields)),
	}
	for _, field := range cfg.GroupBy {
		v := items[0][field]
		comp.GroupValues = append(comp.GroupValues, v)
		comp.GroupKeys = append(comp.GroupKeys, groupKeyString(v))
	}

	for i, f := range cfg.Fields {
		val, defined := applyFunction(items, f)
		if defined {
			v := val
			comp.Values[i] = &v
			comp.NamedValues[fmt.Sprintf("%s_%s", f.Function, f.SourceField)] = val
		}
	}

	if cfg.Label != nil {
		comp.DisplayLabel = cfg.Label(comp.GroupValues)
	} else {
		comp.DisplayLabel = fmt.Sprintf("%s %s", cfg.EntityType, cfg.AggregationType)
	}
	return comp, nil
}

// applyFunction evaluates one aggregate field. The bool result reports
// whether the value is defined: avg/min/max are undefined without numeric
// inputs, sum and count are always defined.
func applyFunction(items []map[string]any, f AggregateField) (float64, bool) {
	switch f.Function {
	case AggSum:
		var sum float64
		for _, item := range items {
			if n, ok := toFloat(item[f.SourceField]); ok {
				sum += n
			}
			// Non-numeric and missing values count as 0.
		}
		return sum, true
	case AggAvg:
		var sum float64
		var n int
		for _, item := range items {
			if v, ok := toFloat(item[f.SourceField]); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			return 0, false
		}
		return sum / float64(n), true
	case AggMin, AggMax:
		var ext float64
		found := false
		for _, item := range items {
			v, ok := toFloat(item[f.SourceField])
			if !ok {
				continue
			}
			if !found {
				ext = v
				found = true
				continue
			}
			if f.Function == AggMin && v < ext {
				ext = v
			}
			if f.Function == AggMax && v > ext {
				ext = v
			}
		}
		return ext, found
	case AggCount:
		var n float64
		for _, item := range items {
			if item[f.SourceField] != nil {
				n++
			}
		}
		return n, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case Money:
		return float64(n.Centavos), true
	}
	return 0, false
}

func groupKeyString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
