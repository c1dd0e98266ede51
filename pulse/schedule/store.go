package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/errors"
)

// Store handles persistence of schedule definitions
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

const selectDefinition = `
	SELECT id, name, kind, start_at, recurrence_time, recurrence_day, recurrence_month,
	       job_kind, device_id, user_id, payload, enabled, last_run_at, next_run_at,
	       created_at, updated_at
	FROM schedules`

// CreateDefinition validates and inserts d. An enabled definition without a
// next run gets one computed from now.
func (s *Store) CreateDefinition(ctx context.Context, d *Definition, now time.Time) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.JobKind == "" {
		return errors.Mark(errors.Newf("schedule %q requires a job kind", d.Name), ErrInvalidSchedule)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Enabled && d.NextRunAt == nil {
		d.NextRunAt = ComputeNextRun(d.Recurrence, now)
	}

	payload, err := encodePayload(d.Payload)
	if err != nil {
		return err
	}
	d.CreatedAt, d.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, name, kind, start_at, recurrence_time, recurrence_day, recurrence_month,
			job_kind, device_id, user_id, payload, enabled, last_run_at, next_run_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Kind), db.NullTime(d.StartAt),
		db.NullString(d.Time), db.NullString(d.Day), nullMonth(d.Month),
		d.JobKind, db.NullString(d.DeviceID), db.NullString(d.UserID), payload,
		d.Enabled, db.NullTime(d.LastRunAt), db.NullTime(d.NextRunAt),
		db.FormatTime(now), db.FormatTime(now),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule %s", d.ID)
	}
	return nil
}

// GetDefinition retrieves a schedule by id
func (s *Store) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx, selectDefinition+` WHERE id = ?`, id)
	d, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("schedule %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}
	return d, nil
}

// ListDefinitions returns all schedules ordered by name
func (s *Store) ListDefinitions(ctx context.Context) ([]*Definition, error) {
	return s.query(ctx, selectDefinition+` ORDER BY name, id`)
}

// ListDue returns enabled schedules whose next run is at or before now,
// earliest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*Definition, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx, selectDefinition+`
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, id ASC
		LIMIT ?`, db.FormatTime(now), limit)
}

// NextDue returns the enabled schedule that fires soonest, or nil
func (s *Store) NextDue(ctx context.Context) (*Definition, error) {
	list, err := s.query(ctx, selectDefinition+`
		WHERE enabled = 1 AND next_run_at IS NOT NULL
		ORDER BY next_run_at ASC LIMIT 1`)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// UpdateAfterDispatch records a dispatch. A nil lastRun keeps the stored
// value; a nil nextRun means the schedule never fires again.
func (s *Store) UpdateAfterDispatch(ctx context.Context, id string, lastRun, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET last_run_at = COALESCE(?, last_run_at), next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		db.NullTime(lastRun), db.NullTime(nextRun), db.FormatTime(time.Now()), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule %s after dispatch", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("schedule %s not found", id)
	}
	return nil
}

// SetEnabled toggles a schedule. Enabling recomputes the next run from now;
// disabling clears it.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool, now time.Time) (*Definition, error) {
	d, err := s.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Enabled = enabled
	d.NextRunAt = nil
	if enabled {
		d.NextRunAt = ComputeNextRun(d.Recurrence, now)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE schedules SET enabled = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		enabled, db.NullTime(d.NextRunAt), db.FormatTime(now), id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to toggle schedule %s", id)
	}
	d.UpdatedAt = now
	return d, nil
}

// DeleteDefinition removes a schedule
func (s *Store) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("schedule %s not found", id)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query schedules")
	}
	defer rows.Close()

	var out []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate schedules")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row scanner) (*Definition, error) {
	var d Definition
	var kind string
	var startAt, recTime, recDay, deviceID, userID, payload, lastRun, nextRun sql.NullString
	var month sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(&d.ID, &d.Name, &kind, &startAt, &recTime, &recDay, &month,
		&d.JobKind, &deviceID, &userID, &payload, &d.Enabled, &lastRun, &nextRun,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	d.Kind = Kind(kind)
	d.Time = recTime.String
	d.Day = recDay.String
	d.Month = int(month.Int64)
	d.DeviceID = deviceID.String
	d.UserID = userID.String

	if d.StartAt, err = db.ParseNullTime(startAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse start_at for schedule %s", d.ID)
	}
	if d.LastRunAt, err = db.ParseNullTime(lastRun); err != nil {
		return nil, errors.Wrapf(err, "failed to parse last_run_at for schedule %s", d.ID)
	}
	if d.NextRunAt, err = db.ParseNullTime(nextRun); err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_run_at for schedule %s", d.ID)
	}
	if d.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for schedule %s", d.ID)
	}
	if d.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for schedule %s", d.ID)
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &d.Payload); err != nil {
			return nil, errors.Wrapf(err, "failed to decode payload for schedule %s", d.ID)
		}
	}
	return &d, nil
}

func encodePayload(p map[string]any) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal schedule payload")
	}
	return string(b), nil
}

func nullMonth(m int) any {
	if m == 0 {
		return nil
	}
	return m
}
