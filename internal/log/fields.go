package log

// Common field names for structured logging.
const (
	FieldComponent    = "component"
	FieldOperation    = "operation"
	FieldError        = "error"
	FieldBreakdownID  = "breakdown_id"
	FieldProjectID    = "project_id"
	FieldEntityType   = "entity_type"
	FieldEntityID     = "entity_id"
	FieldBatchID      = "batch_id"
	FieldActor        = "actor"
	FieldAction       = "action"
	FieldCount        = "count"
	FieldRowCount     = "row_count"
	FieldGroupKeys    = "group_keys"
	FieldAggregation  = "aggregation_type"
	FieldRollupStatus = "rollup_status"
	FieldDuration     = "duration_ms"
)

// Standard component names.
const (
	ComponentApp         = "app"
	ComponentBreakdowns  = "breakdowns"
	ComponentProjects    = "projects"
	ComponentAggregation = "aggregation"
	ComponentActivity    = "activity"
	ComponentRecalc      = "recalc"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentSheets      = "sheets"
	ComponentCache       = "cache"
)

// Standard operation names.
const (
	OpCreate    = "create"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpRecalc    = "recalc"
	OpAggregate = "aggregate"
	OpLog       = "log"
	OpExport    = "export"
	OpStartup   = "startup"
	OpShutdown  = "shutdown"
)
