package backup

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/errors"
)

// Snapshot is one retrieved device configuration
type Snapshot struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	SHA256      string    `json:"sha256"`
	Size        int       `json:"size"`
	Changed     bool      `json:"changed"` // differs from the previous snapshot
	Content     string    `json:"-"`
}

// Digest returns the hex sha256 of content
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SnapshotStore persists configuration snapshots in sqlite
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a new snapshot store
func NewSnapshotStore(conn *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: conn}
}

// Save stores content as the newest snapshot of deviceID. When content
// matches the latest snapshot nothing is written and that snapshot is
// returned with Changed false.
func (s *SnapshotStore) Save(ctx context.Context, deviceID, executionID, content string, at time.Time) (*Snapshot, error) {
	digest := Digest(content)

	latest, err := s.Latest(ctx, deviceID)
	if err != nil && !errors.IsNotFoundError(err) {
		return nil, err
	}
	if latest != nil && latest.SHA256 == digest {
		latest.Changed = false
		return latest, nil
	}

	snap := &Snapshot{
		ID:          uuid.NewString(),
		DeviceID:    deviceID,
		ExecutionID: executionID,
		CapturedAt:  at,
		SHA256:      digest,
		Size:        len(content),
		Changed:     true,
		Content:     content,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO config_snapshots (id, device_id, execution_id, captured_at, sha256, size, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.DeviceID, db.NullString(executionID), db.FormatTime(at), digest, snap.Size, content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to save snapshot for device %s", deviceID)
	}
	return snap, nil
}

const selectSnapshot = `
	SELECT id, device_id, execution_id, captured_at, sha256, size, content
	FROM config_snapshots`

// Latest returns the newest snapshot of deviceID
func (s *SnapshotStore) Latest(ctx context.Context, deviceID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, selectSnapshot+`
		WHERE device_id = ? ORDER BY captured_at DESC, rowid DESC LIMIT 1`, deviceID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no snapshot for device %s", deviceID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get latest snapshot for device %s", deviceID)
	}
	return snap, nil
}

// Get returns one snapshot by id
func (s *SnapshotStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, selectSnapshot+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("snapshot %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get snapshot %s", id)
	}
	return snap, nil
}

// List returns the snapshots of deviceID newest first. Content is omitted.
func (s *SnapshotStore) List(ctx context.Context, deviceID string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, execution_id, captured_at, sha256, size, ''
		FROM config_snapshots
		WHERE device_id = ?
		ORDER BY captured_at DESC, rowid DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query snapshots")
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan snapshot")
		}
		out = append(out, snap)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate snapshots")
}

// Prune keeps the newest keep snapshots of deviceID and deletes the rest
func (s *SnapshotStore) Prune(ctx context.Context, deviceID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM config_snapshots
		WHERE device_id = ? AND id NOT IN (
			SELECT id FROM config_snapshots WHERE device_id = ?
			ORDER BY captured_at DESC, rowid DESC LIMIT ?
		)`, deviceID, deviceID, keep)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to prune snapshots for device %s", deviceID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanSnapshot(row interface{ Scan(...any) error }) (*Snapshot, error) {
	var snap Snapshot
	var executionID sql.NullString
	var capturedAt string
	if err := row.Scan(&snap.ID, &snap.DeviceID, &executionID, &capturedAt, &snap.SHA256, &snap.Size, &snap.Content); err != nil {
		return nil, err
	}
	snap.ExecutionID = executionID.String
	t, err := db.ParseTime(capturedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse captured_at of snapshot %s", snap.ID)
	}
	snap.CapturedAt = t
	return &snap, nil
}
