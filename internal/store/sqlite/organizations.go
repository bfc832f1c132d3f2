package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

// OrganizationStore implements store.OrganizationStore on SQLite.
type OrganizationStore struct {
	db *sql.DB
}

func NewOrganizationStore(db *sql.DB) *OrganizationStore {
	return &OrganizationStore{db: db}
}

func (s *OrganizationStore) GetByID(ctx context.Context, id uuid.UUID) (*store.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, created_at FROM organizations WHERE id = ?`, id)
	return scanOrg(row)
}

func (s *OrganizationStore) GetByPhone(ctx context.Context, phone string) (*store.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, created_at FROM organizations WHERE phone_number = ?`, phone)
	return scanOrg(row)
}

func (s *OrganizationStore) Create(ctx context.Context, org *store.Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.Must(uuid.NewV7())
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, phone_number, created_at) VALUES (?, ?, ?, ?)`,
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
