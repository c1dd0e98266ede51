package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/errors"
)

// SQLStore persists preferences and the digest queue in sqlite
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a notification store
func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{db: conn}
}

// PutPreferences creates or replaces a user's preferences
func (s *SQLStore) PutPreferences(ctx context.Context, p *Preferences) error {
	if p.UserID == "" {
		return errors.NewConfigurationError("preferences require a user id")
	}
	if p.Frequency == "" {
		p.Frequency = FrequencyImmediate
	}
	if !p.Frequency.Valid() {
		return errors.NewConfigurationError("unknown notification frequency %q", p.Frequency)
	}
	p.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, address, enabled, on_completion, on_failure, frequency, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			address = excluded.address,
			enabled = excluded.enabled,
			on_completion = excluded.on_completion,
			on_failure = excluded.on_failure,
			frequency = excluded.frequency,
			updated_at = excluded.updated_at`,
		p.UserID, p.Address, p.Enabled, p.OnCompletion, p.OnFailure, string(p.Frequency), db.FormatTime(p.UpdatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save preferences for %s", p.UserID)
	}
	return nil
}

// GetPreferences loads a user's preferences
func (s *SQLStore) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	var p Preferences
	var frequency, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, address, enabled, on_completion, on_failure, frequency, updated_at
		FROM notification_preferences WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Address, &p.Enabled, &p.OnCompletion, &p.OnFailure, &frequency, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no notification preferences for %s", userID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get preferences for %s", userID)
	}
	p.Frequency = Frequency(frequency)
	if p.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse updated_at")
	}
	return &p, nil
}

// Enqueue stores a deferred notification
func (s *SQLStore) Enqueue(ctx context.Context, item DigestItem) error {
	summary, err := json.Marshal(item.Summary)
	if err != nil {
		return errors.Wrap(err, "failed to marshal digest summary")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_digest_queue (user_id, address, frequency, execution_id, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		item.UserID, item.Address, string(item.Frequency), db.NullString(item.ExecutionID),
		string(summary), db.FormatTime(item.CreatedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to queue digest item for %s", item.UserID)
	}
	return nil
}

// PendingDigest lists undelivered items of frequency, oldest first
func (s *SQLStore) PendingDigest(ctx context.Context, frequency Frequency) ([]DigestItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, address, frequency, execution_id, summary, created_at
		FROM notification_digest_queue
		WHERE frequency = ? AND delivered_at IS NULL
		ORDER BY created_at, id`, string(frequency))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list digest queue")
	}
	defer rows.Close()

	var out []DigestItem
	for rows.Next() {
		var it DigestItem
		var freq, summary, createdAt string
		var execID sql.NullString
		if err := rows.Scan(&it.ID, &it.UserID, &it.Address, &freq, &execID, &summary, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan digest item")
		}
		it.Frequency = Frequency(freq)
		it.ExecutionID = execID.String
		if err := json.Unmarshal([]byte(summary), &it.Summary); err != nil {
			return nil, errors.Wrapf(err, "failed to decode digest item %d", it.ID)
		}
		if it.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to parse created_at")
		}
		out = append(out, it)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate digest queue")
}

// MarkDelivered stamps delivered_at on ids
func (s *SQLStore) MarkDelivered(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, db.FormatTime(at))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	_, err := s.db.ExecContext(ctx,
		`UPDATE notification_digest_queue SET delivered_at = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return errors.Wrap(err, "failed to mark digest items delivered")
	}
	return nil
}
