package device

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/errors"
)

// Store persists devices in sqlite
type Store struct {
	db *sql.DB
}

// NewStore creates a device store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// Validate checks the fields a connection needs
func (d *Device) Validate() error {
	if d.ID == "" {
		return errors.NewConfigurationError("device requires an id")
	}
	if d.Host == "" {
		return errors.NewConfigurationError("device %s requires a host", d.ID)
	}
	if d.Port < 0 || d.Port > 65535 {
		return errors.NewConfigurationError("device %s has invalid port %d", d.ID, d.Port)
	}
	if d.Platform != "" {
		if _, ok := LookupProfile(d.Platform); !ok && d.ConfigCommand == "" {
			return errors.NewConfigurationError("device %s has unknown platform %q and no config command", d.ID, d.Platform)
		}
	}
	return nil
}

// Upsert inserts d or replaces its connection fields
func (s *Store) Upsert(ctx context.Context, d *Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.Platform == "" {
		d.Platform = "generic"
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, label, host, port, platform, credential_id, tag_id, config_command, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			host = excluded.host,
			port = excluded.port,
			platform = excluded.platform,
			credential_id = excluded.credential_id,
			tag_id = excluded.tag_id,
			config_command = excluded.config_command,
			updated_at = excluded.updated_at`,
		d.ID, d.Label, d.Host, d.Port, d.Platform,
		db.NullString(d.CredentialID), db.NullString(d.TagID), db.NullString(d.ConfigCommand),
		db.FormatTime(now), db.FormatTime(now),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert device %s", d.ID)
	}
	d.UpdatedAt = now
	return nil
}

// Get loads a device by id
func (s *Store) Get(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, host, port, platform, credential_id, tag_id, config_command, created_at, updated_at
		FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("device %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get device %s", id)
	}
	return d, nil
}

// List returns all devices ordered by label
func (s *Store) List(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, host, port, platform, credential_id, tag_id, config_command, created_at, updated_at
		FROM devices ORDER BY label, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan device")
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate devices")
}

// Delete removes a device; its snapshots and schedules cascade
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete device %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("device %s not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var d Device
	var credID, tagID, command sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.Label, &d.Host, &d.Port, &d.Platform, &credID, &tagID, &command, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.CredentialID = credID.String
	d.TagID = tagID.String
	d.ConfigCommand = command.String

	var err error
	if d.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
