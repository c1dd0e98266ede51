package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/errors"
	"github.com/teranos/netpulse/logger"
)

// ErrNotRunning is returned when a terminal update targets an execution
// that already left the running state
var ErrNotRunning = errors.New("execution is not running")

// Store is the durable side of the tracker. Payloads arrive already
// redacted.
type Store interface {
	CreateExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, p ExecutionPatch) error
	AppendLogEntry(ctx context.Context, e *LogEntry) error
	ListLogEntries(ctx context.Context, executionID string, f LogFilter) ([]LogEntry, error)
}

// SQLStore persists executions and their log entries in sqlite
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new execution store
func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{db: conn}
}

const selectExecution = `
	SELECT id, correlation_id, kind, status, start_time, end_time, duration_ms,
	       result_message, job_data, device_id, user_id, retention_days
	FROM job_executions`

// CreateExecution inserts a new execution record
func (s *SQLStore) CreateExecution(ctx context.Context, e *Execution) error {
	data, err := encodeMap(e.JobData)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job data")
	}

	var durationMs interface{}
	if e.DurationMs != nil {
		durationMs = *e.DurationMs
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_executions (
			id, correlation_id, kind, status, start_time, end_time, duration_ms,
			result_message, job_data, device_id, user_id, retention_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, db.NullString(e.CorrelationID), e.Kind, string(e.Status),
		db.FormatTime(e.StartTime), db.NullTime(e.EndTime), durationMs,
		db.NullString(e.ResultMessage), data,
		db.NullString(e.DeviceID), db.NullString(e.UserID), e.RetentionDays,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create execution %s", e.ID)
	}
	return nil
}

// GetExecution retrieves an execution by ID
func (s *SQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, selectExecution+` WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("execution %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get execution %s", id)
	}
	return e, nil
}

// UpdateExecution applies a terminal patch. Only running executions are
// updated; anything else yields ErrNotRunning or a not-found error.
func (s *SQLStore) UpdateExecution(ctx context.Context, id string, p ExecutionPatch) error {
	if !p.Status.IsTerminal() {
		return errors.Newf("cannot transition execution %s to %q", id, p.Status)
	}
	data, err := encodeMap(p.JobData)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job data")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE job_executions
		SET status = ?, end_time = ?, duration_ms = ?, result_message = ?, job_data = ?
		WHERE id = ? AND status = ?`,
		string(p.Status), db.FormatTime(p.EndTime), p.DurationMs,
		db.NullString(p.ResultMessage), data, id, string(StatusRunning))
	if err != nil {
		return errors.Wrapf(err, "failed to update execution %s", id)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rowsAffected > 0 {
		return nil
	}

	if _, err := s.GetExecution(ctx, id); err != nil {
		return err
	}
	return errors.Wrapf(ErrNotRunning, "execution %s", id)
}

// UpdateRetention changes the retention window. This is the only field a
// terminal record accepts.
func (s *SQLStore) UpdateRetention(ctx context.Context, id string, days int) error {
	if days < 0 {
		return errors.NewConfigurationError("retention days must not be negative, got %d", days)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE job_executions SET retention_days = ? WHERE id = ?`, days, id)
	if err != nil {
		return errors.Wrapf(err, "failed to update retention for execution %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("execution %s not found", id)
	}
	return nil
}

// AppendLogEntry stores e and sets its ID
func (s *SQLStore) AppendLogEntry(ctx context.Context, e *LogEntry) error {
	details, err := encodeMap(e.Details)
	if err != nil {
		return errors.Wrap(err, "failed to marshal log details")
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO job_log_entries (execution_id, timestamp, level, category, message, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ExecutionID, db.FormatTime(e.Timestamp), string(e.Level),
		db.NullString(e.Category), e.Message, details)
	if err != nil {
		return errors.Wrapf(err, "failed to append log entry for execution %s", e.ExecutionID)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListLogEntries returns an execution's entries ordered by timestamp then id
func (s *SQLStore) ListLogEntries(ctx context.Context, executionID string, f LogFilter) ([]LogEntry, error) {
	query := `
		SELECT id, execution_id, timestamp, level, category, message, details
		FROM job_log_entries
		WHERE execution_id = ?`
	args := []interface{}{executionID}

	if f.Level != "" {
		query += ` AND level = ?`
		args = append(args, string(f.Level))
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.Since != nil {
		query += ` AND timestamp >= ?`
		args = append(args, db.FormatTime(*f.Since))
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query log entries")
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var level, ts string
		var category, details sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &ts, &level, &category, &e.Message, &details); err != nil {
			return nil, errors.Wrap(err, "failed to scan log entry")
		}
		e.Level = logger.Level(level)
		e.Category = category.String
		if e.Timestamp, err = db.ParseTime(ts); err != nil {
			return nil, errors.Wrapf(err, "failed to parse timestamp of log entry %d", e.ID)
		}
		if e.Details, err = decodeMap(details); err != nil {
			return nil, errors.Wrapf(err, "failed to decode details of log entry %d", e.ID)
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "failed to iterate log entries")
}

// ListExecutions returns executions newest first
func (s *SQLStore) ListExecutions(ctx context.Context, f ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []interface{}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}

	query := selectExecution
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time DESC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query executions")
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate executions")
}

// DeleteExecution removes an execution and, by cascade, its log entries
func (s *SQLStore) DeleteExecution(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_executions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete execution %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("execution %s not found", id)
	}
	return nil
}

// CleanupExpired deletes terminal executions whose retention window ended
// before now and returns how many were removed
func (s *SQLStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, end_time, retention_days FROM job_executions
		WHERE status != ? AND end_time IS NOT NULL`, string(StatusRunning))
	if err != nil {
		return 0, errors.Wrap(err, "failed to query expired executions")
	}

	var expired []string
	for rows.Next() {
		var id, endTime string
		var days int
		if err := rows.Scan(&id, &endTime, &days); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "failed to scan execution")
		}
		end, err := db.ParseTime(endTime)
		if err != nil {
			rows.Close()
			return 0, errors.Wrapf(err, "failed to parse end_time of execution %s", id)
		}
		if !end.AddDate(0, 0, days).After(now) {
			expired = append(expired, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "failed to iterate executions")
	}
	if len(expired) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin cleanup transaction")
	}
	defer tx.Rollback()

	for _, id := range expired {
		if _, err := tx.ExecContext(ctx, `DELETE FROM job_executions WHERE id = ?`, id); err != nil {
			return 0, errors.Wrapf(err, "failed to delete execution %s", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit cleanup")
	}
	return len(expired), nil
}

func scanExecution(row interface{ Scan(...any) error }) (*Execution, error) {
	var e Execution
	var status, startTime string
	var correlationID, endTime, resultMessage, jobData, deviceID, userID sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(&e.ID, &correlationID, &e.Kind, &status, &startTime, &endTime, &durationMs,
		&resultMessage, &jobData, &deviceID, &userID, &e.RetentionDays)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.CorrelationID = correlationID.String
	e.ResultMessage = resultMessage.String
	e.DeviceID = deviceID.String
	e.UserID = userID.String
	if durationMs.Valid {
		d := durationMs.Int64
		e.DurationMs = &d
	}
	if e.StartTime, err = db.ParseTime(startTime); err != nil {
		return nil, errors.Wrapf(err, "failed to parse start_time of execution %s", e.ID)
	}
	if e.EndTime, err = db.ParseNullTime(endTime); err != nil {
		return nil, errors.Wrapf(err, "failed to parse end_time of execution %s", e.ID)
	}
	if e.JobData, err = decodeMap(jobData); err != nil {
		return nil, errors.Wrapf(err, "failed to decode job data of execution %s", e.ID)
	}
	return &e, nil
}

func encodeMap(m map[string]any) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
