// Package storage is the SQLite record store. Schema lives in embedded
// migrations; queries are plain database/sql.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"obras/internal/core"
	"obras/internal/store"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Timestamps are stored as UTC RFC 3339 text so lexical order matches
// chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

const breakdownColumns = `id, project_id, name, office, municipality, status,
	allocated_centavos, utilized_centavos, manager, target_date, remarks,
	created_at, created_by, updated_at, updated_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBreakdown(row rowScanner) (core.Breakdown, error) {
	var b core.Breakdown
	var status, createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.ProjectID, &b.Name, &b.Office, &b.Municipality,
		&status, &b.Allocated.Centavos, &b.Utilized.Centavos, &b.Manager,
		&b.TargetDate, &b.Remarks, &createdAt, &b.CreatedBy, &updatedAt, &b.UpdatedBy)
	if err != nil {
		return core.Breakdown{}, err
	}
	b.Status = core.Status(status)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

func (r *SQLiteRepository) GetBreakdown(ctx context.Context, id string) (*core.Breakdown, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+breakdownColumns+` FROM breakdowns WHERE id = ?`, id)
	b, err := scanBreakdown(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get breakdown: %w", err)
	}
	return &b, nil
}

func (r *SQLiteRepository) InsertBreakdown(ctx context.Context, b core.Breakdown) (string, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO breakdowns (`+breakdownColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProjectID, b.Name, b.Office, b.Municipality, string(b.Status),
		b.Allocated.Centavos, b.Utilized.Centavos, b.Manager, b.TargetDate,
		b.Remarks, formatTime(now), b.CreatedBy, formatTime(now), b.UpdatedBy)
	if err != nil {
		return "", fmt.Errorf("insert breakdown: %w", err)
	}

	slog.InfoContext(ctx, "Breakdown saved to SQLite",
		"id", b.ID,
		"name", b.Name,
		"project_id", b.ProjectID,
		"allocated_centavos", b.Allocated.Centavos)

	return b.ID, nil
}

func (r *SQLiteRepository) PatchBreakdown(ctx context.Context, id string, patch store.BreakdownPatch) error {
	sets := []string{"updated_at = ?", "updated_by = ?"}
	args := []any{formatTime(r.now()), patch.UpdatedBy}

	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.ProjectID != nil {
		add("project_id", *patch.ProjectID)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Office != nil {
		add("office", *patch.Office)
	}
	if patch.Municipality != nil {
		add("municipality", *patch.Municipality)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Allocated != nil {
		add("allocated_centavos", patch.Allocated.Centavos)
	}
	if patch.Utilized != nil {
		add("utilized_centavos", patch.Utilized.Centavos)
	}
	if patch.Manager != nil {
		add("manager", *patch.Manager)
	}
	if patch.TargetDate != nil {
		add("target_date", *patch.TargetDate)
	}
	if patch.Remarks != nil {
		add("remarks", *patch.Remarks)
	}

	args = append(args, id)
	res, err := r.db.ExecContext(ctx,
		`UPDATE breakdowns SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("patch breakdown: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) DeleteBreakdown(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM breakdowns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete breakdown: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) ListBreakdowns(ctx context.Context, filter store.BreakdownFilter) ([]core.Breakdown, error) {
	query := `SELECT ` + breakdownColumns + ` FROM breakdowns`
	var where []string
	var args []any
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Search != "" {
		where = append(where, "(lower(name) LIKE ? OR lower(office) LIKE ? OR lower(municipality) LIKE ?)")
		needle := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, needle, needle, needle)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return r.queryBreakdowns(ctx, query, args...)
}

func (r *SQLiteRepository) ListBreakdownsByProject(ctx context.Context, projectID string) ([]core.Breakdown, error) {
	return r.queryBreakdowns(ctx,
		`SELECT `+breakdownColumns+` FROM breakdowns WHERE project_id = ? ORDER BY id`,
		projectID)
}

func (r *SQLiteRepository) queryBreakdowns(ctx context.Context, query string, args ...any) ([]core.Breakdown, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list breakdowns: %w", err)
	}
	defer rows.Close()

	var out []core.Breakdown
	for rows.Next() {
		b, err := scanBreakdown(rows)
		if err != nil {
			return nil, fmt.Errorf("scan breakdown: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const projectColumns = `id, name, office, municipality, category, manager,
	start_date, end_date, budget_centavos, completed, delayed, on_track,
	breakdown_count, total_allocated_centavos, total_utilized_centavos,
	created_at, created_by, updated_at, updated_by`

func scanProject(row rowScanner) (core.Project, error) {
	var p core.Project
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.Office, &p.Municipality, &p.Category,
		&p.Manager, &p.StartDate, &p.EndDate, &p.Budget.Centavos,
		&p.Completed, &p.Delayed, &p.OnTrack, &p.BreakdownCount,
		&p.TotalAllocated.Centavos, &p.TotalUtilized.Centavos,
		&createdAt, &p.CreatedBy, &updatedAt, &p.UpdatedBy)
	if err != nil {
		return core.Project{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*core.Project, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (r *SQLiteRepository) InsertProject(ctx context.Context, p core.Project) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Office, p.Municipality, p.Category, p.Manager,
		p.StartDate, p.EndDate, p.Budget.Centavos,
		p.Completed, p.Delayed, p.OnTrack, p.BreakdownCount,
		p.TotalAllocated.Centavos, p.TotalUtilized.Centavos,
		formatTime(now), p.CreatedBy, formatTime(now), p.UpdatedBy)
	if err != nil {
		return "", fmt.Errorf("insert project: %w", err)
	}

	slog.InfoContext(ctx, "Project saved to SQLite", "id", p.ID, "name", p.Name)
	return p.ID, nil
}

func (r *SQLiteRepository) PatchProjectRollup(ctx context.Context, id string, result core.RecalcResult, updatedBy string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects SET
			completed = ?, delayed = ?, on_track = ?, breakdown_count = ?,
			total_allocated_centavos = ?, total_utilized_centavos = ?,
			updated_at = ?, updated_by = ?
		WHERE id = ?`,
		result.Completed, result.Delayed, result.OnTrack, result.BreakdownCount,
		result.TotalAllocated.Centavos, result.TotalUtilized.Centavos,
		formatTime(r.now()), updatedBy, id)
	if err != nil {
		return fmt.Errorf("patch project rollup: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]core.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list project ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const aggregationColumns = `id, entity_type, aggregation_type, group_key_count,
	group_key1, group_key2, group_key3, group_key4, group_key5,
	value1, value2, value3, value4, value5, value6, value7, value8, value9, value10,
	named_values, display_label, row_count, created_at, created_by, updated_at`

// padKeys widens a key tuple to the fixed column count. The stored key count
// keeps ("a") and ("a", "") distinct despite identical padding.
func padKeys(keys []string) [core.MaxGroupFields]string {
	var padded [core.MaxGroupFields]string
	copy(padded[:], keys)
	return padded
}

func scanAggregation(row rowScanner) (core.AggregationRecord, error) {
	var rec core.AggregationRecord
	var keyCount int
	var keys [core.MaxGroupFields]string
	var values [core.MaxAggregateFields]sql.NullFloat64
	var namedJSON, createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.EntityType, &rec.AggregationType, &keyCount,
		&keys[0], &keys[1], &keys[2], &keys[3], &keys[4],
		&values[0], &values[1], &values[2], &values[3], &values[4],
		&values[5], &values[6], &values[7], &values[8], &values[9],
		&namedJSON, &rec.DisplayLabel, &rec.RowCount,
		&createdAt, &rec.CreatedBy, &updatedAt)
	if err != nil {
		return core.AggregationRecord{}, err
	}
	rec.GroupKeys = append(rec.GroupKeys, keys[:keyCount]...)
	for i, v := range values {
		if v.Valid {
			f := v.Float64
			rec.Values[i] = &f
		}
	}
	if err := json.Unmarshal([]byte(namedJSON), &rec.NamedValues); err != nil {
		return core.AggregationRecord{}, fmt.Errorf("decode named values: %w", err)
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

func nullFloats(values [core.MaxAggregateFields]*float64) [core.MaxAggregateFields]sql.NullFloat64 {
	var out [core.MaxAggregateFields]sql.NullFloat64
	for i, v := range values {
		if v != nil {
			out[i] = sql.NullFloat64{Float64: *v, Valid: true}
		}
	}
	return out
}

func (r *SQLiteRepository) FindAggregation(ctx context.Context, entityType, aggregationType string, groupKeys []string) (*core.AggregationRecord, error) {
	keys := padKeys(groupKeys)
	row := r.db.QueryRowContext(ctx, `
		SELECT `+aggregationColumns+` FROM aggregation_records
		WHERE entity_type = ? AND aggregation_type = ? AND group_key_count = ?
		  AND group_key1 = ? AND group_key2 = ? AND group_key3 = ?
		  AND group_key4 = ? AND group_key5 = ?`,
		entityType, aggregationType, len(groupKeys),
		keys[0], keys[1], keys[2], keys[3], keys[4])
	rec, err := scanAggregation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find aggregation: %w", err)
	}
	return &rec, nil
}

func (r *SQLiteRepository) GetAggregation(ctx context.Context, id string) (*core.AggregationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+aggregationColumns+` FROM aggregation_records WHERE id = ?`, id)
	rec, err := scanAggregation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregation: %w", err)
	}
	return &rec, nil
}

func (r *SQLiteRepository) InsertAggregation(ctx context.Context, rec core.AggregationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	namedJSON, err := json.Marshal(rec.NamedValues)
	if err != nil {
		return "", fmt.Errorf("encode named values: %w", err)
	}
	keys := padKeys(rec.GroupKeys)
	values := nullFloats(rec.Values)
	now := r.now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO aggregation_records (`+aggregationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EntityType, rec.AggregationType, len(rec.GroupKeys),
		keys[0], keys[1], keys[2], keys[3], keys[4],
		values[0], values[1], values[2], values[3], values[4],
		values[5], values[6], values[7], values[8], values[9],
		string(namedJSON), rec.DisplayLabel, rec.RowCount,
		formatTime(now), rec.CreatedBy, formatTime(now))
	if err != nil {
		return "", fmt.Errorf("insert aggregation: %w", err)
	}
	return rec.ID, nil
}

func (r *SQLiteRepository) PatchAggregation(ctx context.Context, id string, rec core.AggregationRecord) error {
	namedJSON, err := json.Marshal(rec.NamedValues)
	if err != nil {
		return fmt.Errorf("encode named values: %w", err)
	}
	values := nullFloats(rec.Values)
	// Creation attribution deliberately untouched.
	res, err := r.db.ExecContext(ctx, `
		UPDATE aggregation_records SET
			value1 = ?, value2 = ?, value3 = ?, value4 = ?, value5 = ?,
			value6 = ?, value7 = ?, value8 = ?, value9 = ?, value10 = ?,
			named_values = ?, display_label = ?, row_count = ?, updated_at = ?
		WHERE id = ?`,
		values[0], values[1], values[2], values[3], values[4],
		values[5], values[6], values[7], values[8], values[9],
		string(namedJSON), rec.DisplayLabel, rec.RowCount,
		formatTime(r.now()), id)
	if err != nil {
		return fmt.Errorf("patch aggregation: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) ListAggregations(ctx context.Context, entityType, aggregationType, groupValue string) ([]core.AggregationRecord, error) {
	query := `SELECT ` + aggregationColumns + ` FROM aggregation_records
		WHERE entity_type = ? AND aggregation_type = ?`
	args := []any{entityType, aggregationType}
	if groupValue != "" {
		query += ` AND ? IN (group_key1, group_key2, group_key3, group_key4, group_key5)`
		args = append(args, groupValue)
	}
	query += ` ORDER BY display_label`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list aggregations: %w", err)
	}
	defer rows.Close()

	var out []core.AggregationRecord
	for rows.Next() {
		rec, err := scanAggregation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aggregation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertActivity(ctx context.Context, rec core.ActivityRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	snapshotJSON, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	changedJSON, err := json.Marshal(rec.ChangedFields)
	if err != nil {
		return "", fmt.Errorf("encode changed fields: %w", err)
	}
	summaryJSON, err := json.Marshal(rec.ChangeSummary)
	if err != nil {
		return "", fmt.Errorf("encode change summary: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO activity_records (
			id, batch_id, action, entity_type, entity_id,
			snapshot, changed_fields, change_summary,
			actor_id, actor_name, actor_email, actor_role, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BatchID, rec.Action, rec.EntityType, rec.EntityID,
		string(snapshotJSON), string(changedJSON), string(summaryJSON),
		rec.ActorID, rec.ActorName, rec.ActorEmail, rec.ActorRole,
		rec.Reason, formatTime(rec.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("insert activity: %w", err)
	}
	return rec.ID, nil
}

func (r *SQLiteRepository) ListActivities(ctx context.Context, entityType, entityID string, limit int) ([]core.ActivityRecord, error) {
	query := `SELECT id, batch_id, action, entity_type, entity_id,
		snapshot, changed_fields, change_summary,
		actor_id, actor_name, actor_email, actor_role, reason, created_at
		FROM activity_records`
	var where []string
	var args []any
	if entityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, entityType)
	}
	if entityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, entityID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []core.ActivityRecord
	for rows.Next() {
		var rec core.ActivityRecord
		var snapshotJSON, changedJSON, summaryJSON, createdAt string
		err := rows.Scan(&rec.ID, &rec.BatchID, &rec.Action, &rec.EntityType,
			&rec.EntityID, &snapshotJSON, &changedJSON, &summaryJSON,
			&rec.ActorID, &rec.ActorName, &rec.ActorEmail, &rec.ActorRole,
			&rec.Reason, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshotJSON), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(changedJSON), &rec.ChangedFields); err != nil {
			return nil, fmt.Errorf("decode changed fields: %w", err)
		}
		if err := json.Unmarshal([]byte(summaryJSON), &rec.ChangeSummary); err != nil {
			return nil, fmt.Errorf("decode change summary: %w", err)
		}
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
