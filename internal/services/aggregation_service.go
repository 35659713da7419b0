package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"obras/internal/cache"
	"obras/internal/core"
	"obras/internal/identity"
	"obras/internal/store"
)

// AggregateResult reports where one computation landed.
type AggregateResult struct {
	ID      string
	Created bool
}

// AggregationService runs grouped computations and upserts the result by
// group-key identity: one record per (entity type, aggregation type, group
// key tuple), exactly one store write per call.
type AggregationService struct {
	store    store.AggregationStore
	identity identity.Resolver
	cache    cache.Cache[[]core.AggregationRecord]
}

// NewAggregationService builds the service. listCache may be nil to disable
// read caching.
func NewAggregationService(aggStore store.AggregationStore, resolver identity.Resolver, listCache cache.Cache[[]core.AggregationRecord]) *AggregationService {
	return &AggregationService{
		store:    aggStore,
		identity: resolver,
		cache:    listCache,
	}
}

// Aggregate computes cfg over items and persists the result. Items must
// already share identical group-field values; the key comes from the first
// item.
func (s *AggregationService) Aggregate(ctx context.Context, items []map[string]any, cfg core.AggregationConfig) (AggregateResult, error) {
	comp, err := core.ComputeAggregation(items, cfg)
	if err != nil {
		return AggregateResult{}, err
	}

	rec := core.AggregationRecord{
		EntityType:      cfg.EntityType,
		AggregationType: cfg.AggregationType,
		GroupKeys:       comp.GroupKeys,
		Values:          comp.Values,
		NamedValues:     comp.NamedValues,
		DisplayLabel:    comp.DisplayLabel,
		RowCount:        comp.RowCount,
	}

	existing, err := s.store.FindAggregation(ctx, cfg.EntityType, cfg.AggregationType, comp.GroupKeys)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("find aggregation: %w", err)
	}

	var result AggregateResult
	if existing != nil {
		if err := s.store.PatchAggregation(ctx, existing.ID, rec); err != nil {
			return AggregateResult{}, fmt.Errorf("patch aggregation: %w", err)
		}
		result = AggregateResult{ID: existing.ID}
	} else {
		actor, err := s.identity.Current(ctx)
		if err != nil {
			actor = identity.System()
		}
		rec.CreatedBy = actor.ID
		id, err := s.store.InsertAggregation(ctx, rec)
		if err != nil {
			return AggregateResult{}, fmt.Errorf("insert aggregation: %w", err)
		}
		result = AggregateResult{ID: id, Created: true}
	}

	s.invalidate(cfg.EntityType, cfg.AggregationType)

	slog.DebugContext(ctx, "Aggregation upserted",
		"entity_type", cfg.EntityType,
		"aggregation_type", cfg.AggregationType,
		"group_keys", strings.Join(comp.GroupKeys, "|"),
		"row_count", comp.RowCount,
		"created", result.Created)

	return result, nil
}

// List returns records for (entityType, aggregationType), optionally
// narrowed to tuples containing groupValue. Results are cached until the
// next upsert for the same pair.
func (s *AggregationService) List(ctx context.Context, entityType, aggregationType, groupValue string) ([]core.AggregationRecord, error) {
	key := listKey(entityType, aggregationType, groupValue)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return cached, nil
		}
	}

	records, err := s.store.ListAggregations(ctx, entityType, aggregationType, groupValue)
	if err != nil {
		return nil, fmt.Errorf("list aggregations: %w", err)
	}
	if s.cache != nil {
		s.cache.Set(key, records)
	}
	return records, nil
}

func (s *AggregationService) Get(ctx context.Context, id string) (*core.AggregationRecord, error) {
	return s.store.GetAggregation(ctx, id)
}

func (s *AggregationService) invalidate(entityType, aggregationType string) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidatePrefix(listKey(entityType, aggregationType, ""))
}

func listKey(entityType, aggregationType, groupValue string) string {
	return entityType + "/" + aggregationType + "/" + groupValue
}
