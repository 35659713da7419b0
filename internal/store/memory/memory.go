// Package memory is the in-process record store: mutex-guarded maps with the
// same semantics as the SQLite repository. It backs the memory backend and
// the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"obras/internal/core"
	"obras/internal/store"
)

type Store struct {
	mu           sync.Mutex
	breakdowns   map[string]core.Breakdown
	projects     map[string]core.Project
	aggregations map[string]core.AggregationRecord
	activities   map[string]core.ActivityRecord
	now          func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		breakdowns:   make(map[string]core.Breakdown),
		projects:     make(map[string]core.Project),
		aggregations: make(map[string]core.AggregationRecord),
		activities:   make(map[string]core.ActivityRecord),
		now:          time.Now,
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) GetBreakdown(_ context.Context, id string) (*core.Breakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakdowns[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &b, nil
}

func (s *Store) InsertBreakdown(_ context.Context, b core.Breakdown) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := s.now()
	b.CreatedAt = now
	b.UpdatedAt = now
	s.breakdowns[b.ID] = b
	return b.ID, nil
}

func (s *Store) PatchBreakdown(_ context.Context, id string, patch store.BreakdownPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakdowns[id]
	if !ok {
		return core.ErrNotFound
	}
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
	b.UpdatedAt = s.now()
	b.UpdatedBy = patch.UpdatedBy
	s.breakdowns[id] = b
	return nil
}

func (s *Store) DeleteBreakdown(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.breakdowns[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.breakdowns, id)
	return nil
}

func (s *Store) ListBreakdowns(_ context.Context, filter store.BreakdownFilter) ([]core.Breakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Breakdown
	needle := strings.ToLower(filter.Search)
	for _, b := range s.breakdowns {
		if filter.ProjectID != "" && b.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if needle != "" && !matches(b, needle) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(b core.Breakdown, needle string) bool {
	return strings.Contains(strings.ToLower(b.Name), needle) ||
		strings.Contains(strings.ToLower(b.Office), needle) ||
		strings.Contains(strings.ToLower(b.Municipality), needle)
}

func (s *Store) ListBreakdownsByProject(_ context.Context, projectID string) ([]core.Breakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Breakdown
	for _, b := range s.breakdowns {
		if b.ProjectID == projectID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProject(_ context.Context, id string) (*core.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &p, nil
}

func (s *Store) InsertProject(_ context.Context, p core.Project) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.projects[p.ID] = p
	return p.ID, nil
}

func (s *Store) PatchProjectRollup(_ context.Context, id string, result core.RecalcResult, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return core.ErrNotFound
	}
	p.Completed = result.Completed
	p.Delayed = result.Delayed
	p.OnTrack = result.OnTrack
	p.BreakdownCount = result.BreakdownCount
	p.TotalAllocated = result.TotalAllocated
	p.TotalUtilized = result.TotalUtilized
	p.UpdatedAt = s.now()
	p.UpdatedBy = updatedBy
	s.projects[id] = p
	return nil
}

func (s *Store) ListProjects(_ context.Context) ([]core.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListProjectIDs(ctx context.Context) ([]string, error) {
	projects, err := s.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (s *Store) FindAggregation(_ context.Context, entityType, aggregationType string, groupKeys []string) (*core.AggregationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.aggregations {
		if rec.EntityType != entityType || rec.AggregationType != aggregationType {
			continue
		}
		if keysEqual(rec.GroupKeys, groupKeys) {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

func keysEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Store) GetAggregation(_ context.Context, id string) (*core.AggregationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.aggregations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) InsertAggregation(_ context.Context, rec core.AggregationRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.aggregations[rec.ID] = rec
	return rec.ID, nil
}

func (s *Store) PatchAggregation(_ context.Context, id string, rec core.AggregationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.aggregations[id]
	if !ok {
		return core.ErrNotFound
	}
	existing.Values = rec.Values
	existing.NamedValues = rec.NamedValues
	existing.DisplayLabel = rec.DisplayLabel
	existing.RowCount = rec.RowCount
	existing.UpdatedAt = s.now()
	// Creation attribution deliberately untouched.
	s.aggregations[id] = existing
	return nil
}

func (s *Store) ListAggregations(_ context.Context, entityType, aggregationType, groupValue string) ([]core.AggregationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.AggregationRecord
	for _, rec := range s.aggregations {
		if rec.EntityType != entityType || rec.AggregationType != aggregationType {
			continue
		}
		if groupValue != "" && !containsKey(rec.GroupKeys, groupValue) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayLabel < out[j].DisplayLabel })
	return out, nil
}

func containsKey(keys []string, v string) bool {
	for _, k := range keys {
		if k == v {
			return true
		}
	}
	return false
}

func (s *Store) InsertActivity(_ context.Context, rec core.ActivityRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.activities[rec.ID] = rec
	return rec.ID, nil
}

func (s *Store) ListActivities(_ context.Context, entityType, entityID string, limit int) ([]core.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ActivityRecord
	for _, rec := range s.activities {
		if entityType != "" && rec.EntityType != entityType {
			continue
		}
		if entityID != "" && rec.EntityID != entityID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
