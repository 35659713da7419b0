package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusCompleted Status = "completed"
	StatusDelayed   Status = "delayed"
	StatusOngoing   Status = "ongoing"
)

const (
	EntityBreakdowns = "breakdowns"
	EntityProjects   = "projects"
)

type (
	// Status is the closed three-value breakdown status enum. Legacy rows may
	// carry other values; those are never bucketed during recalculation.
	Status string

	Money struct {
		Centavos int64
	}

	// Breakdown is a budget line item, optionally linked to one Project.
	Breakdown struct {
		ID           string
		ProjectID    string // empty when not linked to a project
		Name         string
		Office       string
		Municipality string
		Status       Status
		Allocated    Money
		Utilized     Money
		Manager      string
		TargetDate   string // ISO date, optional
		Remarks      string
		CreatedAt    time.Time
		CreatedBy    string
		UpdatedAt    time.Time
		UpdatedBy    string
	}

	// Project owns rollup counters and totals. The derived fields are only
	// ever written by the recalculation service, never edited directly.
	Project struct {
		ID           string
		Name         string
		Office       string
		Municipality string
		Category     string
		Manager      string
		StartDate    string
		EndDate      string
		Budget       Money // appropriated budget, user-set

		// Derived rollup fields.
		Completed      int64
		Delayed        int64
		OnTrack        int64
		BreakdownCount int64
		TotalAllocated Money
		TotalUtilized  Money

		CreatedAt time.Time
		CreatedBy string
		UpdatedAt time.Time
		UpdatedBy string
	}

	// RecalcResult is the outcome of one full rollup re-derivation.
	RecalcResult struct {
		BreakdownCount int64
		Completed      int64
		Delayed        int64
		OnTrack        int64
		// Unrecognized counts children whose status is missing or outside the
		// enum. They are excluded from every bucket, not a fourth bucket.
		Unrecognized   int64
		TotalAllocated Money
		TotalUtilized  Money
	}
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("record not found")
	ErrEmptyInput       = errors.New("empty input")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyOffice      = errors.New("empty office")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrForbidden        = errors.New("operation requires elevated role")
)

// Recognized reports whether s is one of the three enum values.
func (s Status) Recognized() bool {
	switch s {
	case StatusCompleted, StatusDelayed, StatusOngoing:
		return true
	}
	return false
}

func (m Money) Validate() error {
	if m.Centavos < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (b Breakdown) Validate() error {
	if len(strings.TrimSpace(b.Name)) == 0 {
		return ErrEmptyName
	}
	if len(b.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if strings.TrimSpace(b.Office) == "" {
		return ErrEmptyOffice
	}
	if !b.Status.Recognized() {
		return ErrInvalidStatus
	}
	if err := b.Allocated.Validate(); err != nil {
		return err
	}
	if err := b.Utilized.Validate(); err != nil {
		return err
	}
	return nil
}

func (p Project) Validate() error {
	if len(strings.TrimSpace(p.Name)) == 0 {
		return ErrEmptyName
	}
	if len(p.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if err := p.Budget.Validate(); err != nil {
		return err
	}
	return nil
}

// Snapshot returns the breakdown as a plain field map, the form used for
// activity diffing and for feeding the aggregation engine.
func (b Breakdown) Snapshot() map[string]any {
	return map[string]any{
		"id":           b.ID,
		"projectId":    b.ProjectID,
		"name":         b.Name,
		"office":       b.Office,
		"municipality": b.Municipality,
		"status":       string(b.Status),
		"allocated":    b.Allocated.Centavos,
		"utilized":     b.Utilized.Centavos,
		"manager":      b.Manager,
		"targetDate":   b.TargetDate,
		"remarks":      b.Remarks,
		"createdAt":    b.CreatedAt,
		"createdBy":    b.CreatedBy,
		"updatedAt":    b.UpdatedAt,
		"updatedBy":    b.UpdatedBy,
	}
}

// Snapshot returns the project as a plain field map. Derived rollup fields
// are included; the diff layer excludes them on its own.
func (p Project) Snapshot() map[string]any {
	return map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"office":         p.Office,
		"municipality":   p.Municipality,
		"category":       p.Category,
		"manager":        p.Manager,
		"startDate":      p.StartDate,
		"endDate":        p.EndDate,
		"budget":         p.Budget.Centavos,
		"completed":      p.Completed,
		"delayed":        p.Delayed,
		"onTrack":        p.OnTrack,
		"breakdownCount": p.BreakdownCount,
		"totalAllocated": p.TotalAllocated.Centavos,
		"totalUtilized":  p.TotalUtilized.Centavos,
		"createdAt":      p.CreatedAt,
		"createdBy":      p.CreatedBy,
		"updatedAt":      p.UpdatedAt,
		"updatedBy":      p.UpdatedBy,
	}
}
