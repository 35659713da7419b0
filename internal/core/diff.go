package core

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionRecalc  = "recalculated"
)

// ActivityRecord is one immutable audit entry. Actor identity is captured at
// write time and never re-resolved.
type ActivityRecord struct {
	ID            string
	BatchID       string
	Action        string
	EntityType    string
	EntityID      string
	Snapshot      map[string]any
	ChangedFields []string
	ChangeSummary ChangeSummary
	ActorID       string
	ActorName     string
	ActorEmail    string
	ActorRole     string
	Reason        string
	CreatedAt     time.Time
}

// ActivityEntry is the input to one activity log call. PreviousValues and
// NewValues are only consulted for updates; Snapshot is the state worth
// preserving for the action (the new state, or the last state on delete).
type ActivityEntry struct {
	Action         string
	EntityType     string
	EntityID       string
	Snapshot       map[string]any
	PreviousValues map[string]any
	NewValues      map[string]any
	Reason         string
	BatchID        string
}

// ChangeSummary carries the small fixed set of semantic flags derived from a
// diff, per entity type.
type ChangeSummary struct {
	BudgetChanged   bool     `json:"budgetChanged,omitempty"`
	OldBudget       *float64 `json:"oldBudget,omitempty"`
	NewBudget       *float64 `json:"newBudget,omitempty"`
	StatusChanged   bool     `json:"statusChanged,omitempty"`
	OldStatus       string   `json:"oldStatus,omitempty"`
	NewStatus       string   `json:"newStatus,omitempty"`
	ManagerChanged  bool     `json:"managerChanged,omitempty"`
	ScheduleChanged bool     `json:"scheduleChanged,omitempty"`
	CategoryChanged bool     `json:"categoryChanged,omitempty"`
}

// systemFields never participate in diffs.
var systemFields = map[string]struct{}{
	"id":        {},
	"createdAt": {},
	"createdBy": {},
	"updatedAt": {},
	"updatedBy": {},
}

// derivedFields are excluded per entity type: they are rewritten by the
// recalculation service, so diffing them would flag every cascade as a user
// edit.
var derivedFields = map[string]map[string]struct{}{
	EntityProjects: {
		"completed":      {},
		"delayed":        {},
		"onTrack":        {},
		"breakdownCount": {},
		"totalAllocated": {},
		"totalUtilized":  {},
	},
}

// summaryFields maps each semantic flag to the fields that trigger it.
var summaryFields = map[string]struct {
	budget, status, manager, schedule, category map[string]struct{}
}{
	EntityBreakdowns: {
		budget:   set("allocated", "utilized"),
		status:   set("status"),
		manager:  set("manager"),
		schedule: set("targetDate"),
		category: set("office", "municipality"),
	},
	EntityProjects: {
		budget:   set("budget"),
		status:   set("status"),
		manager:  set("manager"),
		schedule: set("startDate", "endDate"),
		category: set("category"),
	},
}

func set(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

// ChangedFields returns the sorted set of keys whose serialized values differ
// between prev and next. Comparison is structural: two values with the same
// JSON form are equal even if their Go representations differ. System fields
// and the entity's derived fields are skipped.
func ChangedFields(entityType string, prev, next map[string]any) []string {
	derived := derivedFields[entityType]
	keys := make(map[string]struct{}, len(prev)+len(next))
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}

	var changed []string
	for k := range keys {
		if _, ok := systemFields[k]; ok {
			continue
		}
		if _, ok := derived[k]; ok {
			continue
		}
		if !serializedEqual(prev[k], next[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Summarize derives the semantic change flags for entityType from a changed
// field set. Old/new values for budget and status come from the snapshots.
func Summarize(entityType string, changed []string, prev, next map[string]any) ChangeSummary {
	fields, ok := summaryFields[entityType]
	if !ok {
		return ChangeSummary{}
	}

	var s ChangeSummary
	for _, field := range changed {
		if _, ok := fields.budget[field]; ok {
			s.BudgetChanged = true
			if v, ok := toFloat(prev[field]); ok {
				old := v
				s.OldBudget = &old
			}
			if v, ok := toFloat(next[field]); ok {
				nv := v
				s.NewBudget = &nv
			}
		}
		if _, ok := fields.status[field]; ok {
			s.StatusChanged = true
			s.OldStatus = stringValue(prev[field])
			s.NewStatus = stringValue(next[field])
		}
		if _, ok := fields.manager[field]; ok {
			s.ManagerChanged = true
		}
		if _, ok := fields.schedule[field]; ok {
			s.ScheduleChanged = true
		}
		if _, ok := fields.category[field]; ok {
			s.CategoryChanged = true
		}
	}
	return s
}

func serializedEqual(a, b any) bool {
	aj, aerr := json.Marshal(a)
	bj, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(Status); ok {
		return string(s)
	}
	return ""
}
