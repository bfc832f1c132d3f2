package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

// PGOrganizationStore implements store.OrganizationStore backed by Postgres.
type PGOrganizationStore struct {
	db *sql.DB
}

func NewPGOrganizationStore(db *sql.DB) *PGOrganizationStore {
	return &PGOrganizationStore{db: db}
}

const orgSelectCols = `id, name, phone_number, created_at`

func (s *PGOrganizationStore) GetByID(ctx context.Context, id uuid.UUID) (*store.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orgSelectCols+` FROM organizations WHERE id = $1`, id)
	return scanOrg(row)
}

func (s *PGOrganizationStore) GetByPhone(ctx context.Context, phone string) (*store.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orgSelectCols+` FROM organizations WHERE phone_number = $1`, phone)
	return scanOrg(row)
}

func (s *PGOrganizationStore) Create(ctx context.Context, org *store.Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.Must(uuid.NewV7())
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, phone_number, created_at)
		 VALUES ($1, $2, $3, $4)`,
		org.ID, org.Name, org.PhoneNumber, org.CreatedAt)
	return err
}

func scanOrg(row *sql.Row) (*store.Organization, error) {
	var org store.Organization
	err := row.Scan(&org.ID, &org.Name, &org.PhoneNumber, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}
