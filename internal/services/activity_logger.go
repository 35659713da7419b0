package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"obras/internal/amqp"
	"obras/internal/core"
	"obras/internal/identity"
	"obras/internal/store"
)

// ActivityLogger writes the append-only audit trail. It never returns an
// error: a mutation that succeeded must not fail because its audit entry
// could not be written.
type ActivityLogger struct {
	store      store.ActivityStore
	identity   identity.Resolver
	amqpClient *amqp.Client
}

func NewActivityLogger(activityStore store.ActivityStore, resolver identity.Resolver, amqpClient *amqp.Client) *ActivityLogger {
	return &ActivityLogger{
		store:      activityStore,
		identity:   resolver,
		amqpClient: amqpClient,
	}
}

// Log records one activity entry. Storage and publish failures are logged
// and swallowed.
func (l *ActivityLogger) Log(ctx context.Context, entry core.ActivityEntry) {
	rec := l.buildRecord(ctx, entry)

	id, err := l.store.InsertActivity(ctx, rec)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to write activity record",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err)
		return
	}

	l.publishEvent(ctx, id, rec)
}

// LogBatch records every entry under one shared batch id and returns it.
func (l *ActivityLogger) LogBatch(ctx context.Context, entries []core.ActivityEntry) string {
	batchID := uuid.NewString()
	for _, entry := range entries {
		entry.BatchID = batchID
		l.Log(ctx, entry)
	}
	return batchID
}

func (l *ActivityLogger) List(ctx context.Context, entityType, entityID string, limit int) ([]core.ActivityRecord, error) {
	return l.store.ListActivities(ctx, entityType, entityID, limit)
}

func (l *ActivityLogger) buildRecord(ctx context.Context, entry core.ActivityEntry) core.ActivityRecord {
	actor := l.resolveActor(ctx)

	rec := core.ActivityRecord{
		BatchID:    entry.BatchID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Snapshot:   entry.Snapshot,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		ActorEmail: actor.Email,
		ActorRole:  actor.Role,
		Reason:     entry.Reason,
		CreatedAt:  time.Now(),
	}

	if entry.Action == core.ActionUpdated && entry.PreviousValues != nil && entry.NewValues != nil {
		rec.ChangedFields = core.ChangedFields(entry.EntityType, entry.PreviousValues, entry.NewValues)
		rec.ChangeSummary = core.Summarize(entry.EntityType, rec.ChangedFields, entry.PreviousValues, entry.NewValues)
	}

	return rec
}

// resolveActor falls back to the system principal: an unresolved actor must
// not suppress the audit entry.
func (l *ActivityLogger) resolveActor(ctx context.Context) *identity.Principal {
	principal, err := l.identity.Current(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Actor resolution failed, recording as system", "error", err)
		return identity.System()
	}
	return principal
}

func (l *ActivityLogger) publishEvent(ctx context.Context, id string, rec core.ActivityRecord) {
	if l.amqpClient == nil {
		return
	}

	msg := &amqp.ActivityEventMessage{
		ActivityID: id,
		BatchID:    rec.BatchID,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Timestamp:  rec.CreatedAt,
	}
	if err := l.amqpClient.PublishActivityEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish activity event",
			"activity_id", id, "error", err)
		// Don't fail the request - the record is saved locally.
	}
}
