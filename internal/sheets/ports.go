package sheets

import (
	"context"

	"obras/internal/core"
)

// Ports for outbound report adapters.
type (
	// RollupWriter publishes the current project rollups to a report sheet.
	RollupWriter interface {
		WriteRollups(ctx context.Context, projects []core.Project) error
	}

	// AggregationWriter publishes aggregation snapshots.
	AggregationWriter interface {
		WriteAggregations(ctx context.Context, records []core.AggregationRecord) error
	}

	// ReportWriter is the full report surface the worker exports to.
	ReportWriter interface {
		RollupWriter
		AggregationWriter
	}
)
