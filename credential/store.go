package credential

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/netpulse/db"
	"github.com/teranos/netpulse/errors"
)

// Store is the persistence the Resolver needs
type Store interface {
	GetCredential(ctx context.Context, id string) (*Credential, error)
	// ListBindings returns the tag's bindings in stable insertion order
	ListBindings(ctx context.Context, tagID string) ([]BoundCredential, error)
	RecordAttempt(ctx context.Context, a Attempt) error
}

// SQLStore persists credentials and bindings in sqlite
type SQLStore struct {
	db     *sql.DB
	sealer *Sealer
}

// NewSQLStore creates a credential store. A nil sealer stores secrets as given.
func NewSQLStore(conn *sql.DB, sealer *Sealer) *SQLStore {
	return &SQLStore{db: conn, sealer: sealer}
}

// CreateCredential inserts c, sealing its secret when a sealer is configured
func (s *SQLStore) CreateCredential(ctx context.Context, c *Credential) error {
	if c.ID == "" || c.Username == "" {
		return errors.NewConfigurationError("credential requires id and username")
	}
	secret, sealed, err := s.sealSecret(c.Secret)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, name, username, secret, sealed, success_count, failure_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		c.ID, c.Name, c.Username, secret, sealed, db.FormatTime(now), db.FormatTime(now),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create credential %s", c.ID)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// UpsertCredential inserts or replaces name, username and secret, keeping counters
func (s *SQLStore) UpsertCredential(ctx context.Context, c *Credential) error {
	secret, sealed, err := s.sealSecret(c.Secret)
	if err != nil {
		return err
	}
	now := db.FormatTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, name, username, secret, sealed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			username = excluded.username,
			secret = excluded.secret,
			sealed = excluded.sealed,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Username, secret, sealed, now, now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert credential %s", c.ID)
	}
	return nil
}

// GetCredential loads a credential with its secret opened
func (s *SQLStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, username, secret, sealed, success_count, failure_count, created_at, updated_at
		FROM credentials WHERE id = ?`, id)

	var c Credential
	var sealed bool
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.Name, &c.Username, &c.Secret, &sealed, &c.SuccessCount, &c.FailureCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("credential %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get credential %s", id)
	}
	if err := s.finishCredential(&c, sealed, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutBinding creates or updates the priority of a credential/tag binding
func (s *SQLStore) PutBinding(ctx context.Context, b *Binding) error {
	if b.CredentialID == "" || b.TagID == "" {
		return errors.NewConfigurationError("binding requires credential and tag")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credential_bindings (credential_id, tag_id, priority, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(credential_id, tag_id) DO UPDATE SET priority = excluded.priority`,
		b.CredentialID, b.TagID, b.Priority, db.FormatTime(time.Now()),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to bind credential %s to tag %s", b.CredentialID, b.TagID)
	}
	return nil
}

// ListBindings returns every binding of tagID joined with its credential,
// in insertion order.
func (s *SQLStore) ListBindings(ctx context.Context, tagID string) ([]BoundCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.credential_id, b.tag_id, b.priority, b.success_count, b.failure_count,
		       b.last_used_at, b.last_success_at, b.last_failure_at, b.created_at,
		       c.id, c.name, c.username, c.secret, c.sealed, c.success_count, c.failure_count,
		       c.created_at, c.updated_at
		FROM credential_bindings b
		JOIN credentials c ON c.id = b.credential_id
		WHERE b.tag_id = ?
		ORDER BY b.created_at ASC, b.credential_id ASC`, tagID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list bindings for tag %s", tagID)
	}
	defer rows.Close()

	var out []BoundCredential
	for rows.Next() {
		var bc BoundCredential
		var lastUsed, lastSuccess, lastFailure sql.NullString
		var bindingCreated, credCreated, credUpdated string
		var sealed bool

		err := rows.Scan(
			&bc.Binding.CredentialID, &bc.Binding.TagID, &bc.Binding.Priority,
			&bc.Binding.SuccessCount, &bc.Binding.FailureCount,
			&lastUsed, &lastSuccess, &lastFailure, &bindingCreated,
			&bc.Credential.ID, &bc.Credential.Name, &bc.Credential.Username, &bc.Credential.Secret,
			&sealed, &bc.Credential.SuccessCount, &bc.Credential.FailureCount,
			&credCreated, &credUpdated,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan binding")
		}

		if bc.Binding.LastUsedAt, err = db.ParseNullTime(lastUsed); err != nil {
			return nil, errors.Wrap(err, "failed to parse last_used_at")
		}
		if bc.Binding.LastSuccessAt, err = db.ParseNullTime(lastSuccess); err != nil {
			return nil, errors.Wrap(err, "failed to parse last_success_at")
		}
		if bc.Binding.LastFailureAt, err = db.ParseNullTime(lastFailure); err != nil {
			return nil, errors.Wrap(err, "failed to parse last_failure_at")
		}
		if bc.Binding.CreatedAt, err = db.ParseTime(bindingCreated); err != nil {
			return nil, errors.Wrap(err, "failed to parse binding created_at")
		}
		if err := s.finishCredential(&bc.Credential, sealed, credCreated, credUpdated); err != nil {
			return nil, err
		}
		out = append(out, bc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate bindings")
	}
	return out, nil
}

// RecordAttempt bumps the aggregate credential counter and, for tag
// candidates, the binding counter and timestamps in one transaction.
func (s *SQLStore) RecordAttempt(ctx context.Context, a Attempt) error {
	at := db.FormatTime(a.At)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin attempt transaction")
	}
	defer tx.Rollback()

	counter := "failure_count"
	stamp := "last_failure_at"
	if a.Success {
		counter = "success_count"
		stamp = "last_success_at"
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE credentials SET `+counter+` = `+counter+` + 1, updated_at = ? WHERE id = ?`,
		at, a.CredentialID)
	if err != nil {
		return errors.Wrapf(err, "failed to update counters for credential %s", a.CredentialID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("credential %s not found", a.CredentialID)
	}

	if a.TagID != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE credential_bindings
			 SET `+counter+` = `+counter+` + 1, last_used_at = ?, `+stamp+` = ?
			 WHERE credential_id = ? AND tag_id = ?`,
			at, at, a.CredentialID, a.TagID)
		if err != nil {
			return errors.Wrapf(err, "failed to update binding %s/%s", a.CredentialID, a.TagID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit attempt")
	}
	return nil
}

// ListCredentials returns all credentials without their secrets
func (s *SQLStore) ListCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, username, success_count, failure_count, created_at, updated_at
		FROM credentials ORDER BY name, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list credentials")
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Username, &c.SuccessCount, &c.FailureCount, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan credential")
		}
		if c.CreatedAt, err = db.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) sealSecret(secret string) (string, bool, error) {
	if s.sealer == nil {
		return secret, false, nil
	}
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to seal secret")
	}
	return sealed, true, nil
}

func (s *SQLStore) finishCredential(c *Credential, sealed bool, createdAt, updatedAt string) error {
	var err error
	if c.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return errors.Wrapf(err, "failed to parse created_at for credential %s", c.ID)
	}
	if c.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return errors.Wrapf(err, "failed to parse updated_at for credential %s", c.ID)
	}
	if !sealed {
		return nil
	}
	if s.sealer == nil {
		return errors.Wrapf(ErrSealedSecret, "credential %s is sealed and no passphrase is configured", c.ID)
	}
	plain, err := s.sealer.Open(c.Secret)
	if err != nil {
		return errors.Wrapf(err, "failed to open secret for credential %s", c.ID)
	}
	c.Secret = plain
	return nil
}
