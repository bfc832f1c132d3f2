package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/crypto"
	"github.com/threadlinehq/threadline/internal/store"
)

// PGCredentialStore implements store.CredentialStore backed by
// Postgres. Payloads are encrypted with the store key before they
// touch a row and decrypted on read.
type PGCredentialStore struct {
	db     *sql.DB
	encKey string
}

func NewPGCredentialStore(db *sql.DB, encKey string) *PGCredentialStore {
	return &PGCredentialStore{db: db, encKey: encKey}
}

func (s *PGCredentialStore) ListActive(ctx context.Context, orgID uuid.UUID) ([]store.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, service_type, payload, is_active, created_at, updated_at
		 FROM service_credentials
		 WHERE organization_id = $1 AND is_active = true
		 ORDER BY created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []store.Credential
	for rows.Next() {
		var c store.Credential
		var encrypted string
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.ServiceType, &encrypted,
			&c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		plain, err := crypto.Decrypt(encrypted, s.encKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential %s: %w", c.ID, err)
		}
		c.Payload = plain
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Upsert replaces the active credential for (org, service type). The
// previous credential is deactivated rather than deleted so rotation
// leaves an audit trail.
func (s *PGCredentialStore) Upsert(ctx context.Context, cred *store.Credential) error {
	encrypted, err := crypto.Encrypt(cred.Payload, s.encKey)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE service_credentials SET is_active = false, updated_at = $1
		 WHERE organization_id = $2 AND service_type = $3 AND is_active = true`,
		now, cred.OrganizationID, cred.ServiceType); err != nil {
		return fmt.Errorf("deactivate previous: %w", err)
	}

	if cred.ID == uuid.Nil {
		cred.ID = uuid.Must(uuid.NewV7())
	}
	cred.IsActive = true
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO service_credentials (id, organization_id, service_type, payload, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, true, $5, $6)`,
		cred.ID, cred.OrganizationID, cred.ServiceType, encrypted,
		cred.CreatedAt, cred.UpdatedAt); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	return tx.Commit()
}

func (s *PGCredentialStore) Deactivate(ctx context.Context, orgID uuid.UUID, serviceType string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE service_credentials SET is_active = false, updated_at = now()
		 WHERE organization_id = $1 AND service_type = $2 AND is_active = true`,
		orgID, serviceType)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
