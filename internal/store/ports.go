// Package store declares the record-store ports the services consume. Two
// implementations exist: the SQLite repository in internal/storage and the
// in-memory store in internal/store/memory.
package store

import (
	"context"

	"obras/internal/core"
)

type (
	// BreakdownFilter narrows a breakdown listing. Zero values mean "no
	// constraint"; Search matches name, office, or municipality substrings.
	BreakdownFilter struct {
		ProjectID string
		Search    string
		Status    core.Status
		Limit     int
	}

	// BreakdownPatch is a partial update. Nil pointers leave the field
	// untouched; a pointer to the empty string on ProjectID detaches the
	// breakdown from its project.
	BreakdownPatch struct {
		ProjectID    *string
		Name         *string
		Office       *string
		Municipality *string
		Status       *core.Status
		Allocated    *core.Money
		Utilized     *core.Money
		Manager      *string
		TargetDate   *string
		Remarks      *string
		UpdatedBy    string
	}

	BreakdownStore interface {
		GetBreakdown(ctx context.Context, id string) (*core.Breakdown, error)
		InsertBreakdown(ctx context.Context, b core.Breakdown) (string, error)
		PatchBreakdown(ctx context.Context, id string, patch BreakdownPatch) error
		DeleteBreakdown(ctx context.Context, id string) error
		ListBreakdowns(ctx context.Context, filter BreakdownFilter) ([]core.Breakdown, error)
		// ListBreakdownsByProject returns every child of the project with no
		// status filter, the input to one rollup re-derivation.
		ListBreakdownsByProject(ctx context.Context, projectID string) ([]core.Breakdown, error)
	}

	ProjectStore interface {
		GetProject(ctx context.Context, id string) (*core.Project, error)
		InsertProject(ctx context.Context, p core.Project) (string, error)
		// PatchProjectRollup overwrites the derived fields and always stamps
		// updatedAt/updatedBy, even when nothing changed.
		PatchProjectRollup(ctx context.Context, id string, result core.RecalcResult, updatedBy string) error
		ListProjects(ctx context.Context) ([]core.Project, error)
		ListProjectIDs(ctx context.Context) ([]string, error)
	}

	AggregationStore interface {
		// FindAggregation looks up the record matching the exact group-key
		// tuple. Absence is (nil, nil), not an error.
		FindAggregation(ctx context.Context, entityType, aggregationType string, groupKeys []string) (*core.AggregationRecord, error)
		GetAggregation(ctx context.Context, id string) (*core.AggregationRecord, error)
		InsertAggregation(ctx context.Context, rec core.AggregationRecord) (string, error)
		// PatchAggregation rewrites values, label, row count, and updatedAt
		// while preserving the original creation attribution.
		PatchAggregation(ctx context.Context, id string, rec core.AggregationRecord) error
		// ListAggregations returns records for (entityType, aggregationType),
		// optionally narrowed to rows whose key tuple contains groupValue.
		ListAggregations(ctx context.Context, entityType, aggregationType, groupValue string) ([]core.AggregationRecord, error)
	}

	ActivityStore interface {
		// InsertActivity appends one immutable record. There is deliberately
		// no update or delete.
		InsertActivity(ctx context.Context, rec core.ActivityRecord) (string, error)
		ListActivities(ctx context.Context, entityType, entityID string, limit int) ([]core.ActivityRecord, error)
	}

	// Store is the full record-store surface a backend provides.
	Store interface {
		BreakdownStore
		ProjectStore
		AggregationStore
		ActivityStore
		Close() error
	}
)
