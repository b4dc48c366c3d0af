package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/docket/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Instances ---

func (s *LibSQLStore) CreateInstance(ctx context.Context, inst *Instance) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	inst.UpdatedAt = timeOrNow(inst.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (id, container, blob_name, status, phase, output, error, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Container, inst.BlobName, string(inst.Status), string(inst.Phase),
		nullRaw(inst.Output), nullRaw(inst.Error),
		inst.CreatedAt, inst.UpdatedAt, nullTime(inst.CompletedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return schema.NewErrorf(schema.ErrCodeConflict, "instance %q already exists", inst.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, container, blob_name, status, phase, output, error, created_at, updated_at, completed_at
		 FROM instances WHERE id = ?`, id,
	)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("instance", id)
	}
	return inst, err
}

func (s *LibSQLStore) UpdateInstance(ctx context.Context, id string, update InstanceUpdate) error {
	sets, args := instanceSets(update)
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE instances SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "instance", id)
}

// MarkTerminal applies the update only while the instance is still running.
// Zero rows affected means the instance is gone or already terminal; the
// latter is reported as an invalid transition so callers can tell a lost
// race from a missing row.
func (s *LibSQLStore) MarkTerminal(ctx context.Context, id string, update InstanceUpdate) error {
	if update.Status == nil || !update.Status.Terminal() {
		return schema.NewError(schema.ErrCodeInvalidTransition, "terminal update requires a terminal status")
	}
	sets, args := instanceSets(update)
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id, string(schema.InstanceStatusRunning))

	query := fmt.Sprintf("UPDATE instances SET %s WHERE id = ? AND status = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		inst, getErr := s.GetInstance(ctx, id)
		if getErr != nil {
			return getErr
		}
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"instance %q is already %s", id, inst.Status)
	}
	return nil
}

func (s *LibSQLStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Container != "" {
		where = append(where, "container = ?")
		args = append(args, filter.Container)
	}
	if filter.BlobName != "" {
		where = append(where, "blob_name = ?")
		args = append(args, filter.BlobName)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, container, blob_name, status, phase, output, error, created_at, updated_at, completed_at FROM instances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// instanceSets builds the SET clause fragments for a partial update.
func instanceSets(update InstanceUpdate) ([]string, []any) {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Phase != nil {
		sets = append(sets, "phase = ?")
		args = append(args, string(*update.Phase))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	return sets, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	inst := &Instance{}
	var (
		status, phase   string
		output, errJSON sql.NullString
		completedAt     sql.NullTime
	)
	err := row.Scan(&inst.ID, &inst.Container, &inst.BlobName, &status, &phase,
		&output, &errJSON, &inst.CreatedAt, &inst.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	inst.Status = schema.InstanceStatus(status)
	inst.Phase = schema.InstancePhase(phase)
	inst.Output = rawOrNil(output)
	inst.Error = rawOrNil(errJSON)
	if completedAt.Valid {
		inst.CompletedAt = &completedAt.Time
	}
	return inst, nil
}

// --- Events ---

// AppendEvent appends an event with a monotonically increasing per-instance
// sequence. A write-intent statement is issued first so the transaction
// holds the write lock before reading MAX(sequence); without it two deferred
// transactions could both read the same maximum.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE instance_id = ?`, event.InstanceID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (instance_id, task_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.InstanceID, nullStr(event.TaskID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for an instance with sequence > since, ordered by
// sequence ASC.
func (s *LibSQLStore) GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_id, task_id, event_type, payload, timestamp, sequence
		 FROM events WHERE instance_id = ? AND sequence > ? ORDER BY sequence ASC`,
		instanceID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var taskID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.InstanceID, &taskID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.TaskID = taskID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Reports ---

// UpsertReport inserts or merges a report row. Empty fields on the incoming
// row map to NULL, and the conflict clause keeps the stored value in that
// case, so a re-dispatched store task can never erase what an earlier
// attempt wrote.
func (s *LibSQLStore) UpsertReport(ctx context.Context, row *ReportRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (partition_key, row_key, generated_at_utc, report, classification, updated_at)
		 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(partition_key, row_key) DO UPDATE SET
		   generated_at_utc = COALESCE(excluded.generated_at_utc, reports.generated_at_utc),
		   report           = COALESCE(excluded.report, reports.report),
		   classification   = COALESCE(excluded.classification, reports.classification),
		   updated_at       = CURRENT_TIMESTAMP`,
		row.PartitionKey, row.RowKey,
		nullStr(row.GeneratedAtUTC), nullRaw(row.Report), nullStr(row.Classification),
	)
	return err
}

func (s *LibSQLStore) GetReport(ctx context.Context, partitionKey, rowKey string) (*ReportRow, error) {
	r := &ReportRow{}
	var generatedAt, report, classification sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT partition_key, row_key, generated_at_utc, report, classification, updated_at
		 FROM reports WHERE partition_key = ? AND row_key = ?`, partitionKey, rowKey,
	).Scan(&r.PartitionKey, &r.RowKey, &generatedAt, &report, &classification, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("report", partitionKey+"/"+rowKey)
	}
	if err != nil {
		return nil, err
	}
	r.GeneratedAtUTC = generatedAt.String
	r.Report = rawOrNil(report)
	r.Classification = classification.String
	return r, nil
}

// ListReports returns report summaries for a partition, newest first.
func (s *LibSQLStore) ListReports(ctx context.Context, partitionKey string, limit int) ([]*ReportSummary, error) {
	query := `SELECT partition_key, row_key, generated_at_utc FROM reports
		 WHERE partition_key = ? ORDER BY generated_at_utc DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, partitionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*ReportSummary
	for rows.Next() {
		sum := &ReportSummary{}
		var generatedAt sql.NullString
		if err := rows.Scan(&sum.Container, &sum.BlobName, &generatedAt); err != nil {
			return nil, err
		}
		sum.GeneratedAtUTC = generatedAt.String
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.DocketError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
