package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

// FlowStore implements store.FlowStore on SQLite. Keywords, nodes and
// edges are JSON text columns.
type FlowStore struct {
	db *sql.DB
}

func NewFlowStore(db *sql.DB) *FlowStore {
	return &FlowStore{db: db}
}

const flowCols = `id, organization_id, name, description, status, is_active, trigger_type, trigger_keywords, priority, nodes, edges, published_at, created_at, updated_at`

func (s *FlowStore) Create(ctx context.Context, f *store.Flow) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.Status == "" {
		f.Status = store.FlowDraft
	}

	keywords, nodes, edges, err := marshalFlow(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (`+flowCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrganizationID, f.Name, f.Description, f.Status, f.IsActive,
		f.TriggerType, keywords, f.Priority, nodes, edges, f.PublishedAt,
		f.CreatedAt, f.UpdatedAt)
	return err
}

func (s *FlowStore) Get(ctx context.Context, id uuid.UUID) (*store.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+flowCols+` FROM flows WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flows, err := collectFlows(rows)
	if err != nil {
		return nil, err
	}
	if len(flows) == 0 {
		return nil, store.ErrNotFound
	}
	return &flows[0], nil
}

func (s *FlowStore) Update(ctx context.Context, f *store.Flow) error {
	f.UpdatedAt = time.Now()
	keywords, nodes, edges, err := marshalFlow(f)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flows SET name = ?, description = ?, trigger_type = ?, trigger_keywords = ?,
		 priority = ?, nodes = ?, edges = ?, updated_at = ? WHERE id = ?`,
		f.Name, f.Description, f.TriggerType, keywords,
		f.Priority, nodes, edges, f.UpdatedAt, f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *FlowStore) ListEligible(ctx context.Context, orgID uuid.UUID) ([]store.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flowCols+` FROM flows
		 WHERE organization_id = ? AND status = ? AND is_active = 1
		 ORDER BY priority ASC, created_at ASC`,
		orgID, store.FlowPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *FlowStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]store.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flowCols+` FROM flows WHERE organization_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *FlowStore) SetStatus(ctx context.Context, id uuid.UUID, status string, isActive bool) (*store.Flow, error) {
	var publishedAt any
	if status == store.FlowPublished {
		publishedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flows SET status = ?, is_active = ?, published_at = COALESCE(?, published_at), updated_at = ?
		 WHERE id = ?`,
		status, isActive, publishedAt, time.Now(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.Get(ctx, id)
}

func marshalFlow(f *store.Flow) (keywords, nodes, edges []byte, err error) {
	kw := f.TriggerKeywords
	if kw == nil {
		kw = []string{}
	}
	if keywords, err = json.Marshal(kw); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal keywords: %w", err)
	}
	if nodes, err = json.Marshal(f.Nodes); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal nodes: %w", err)
	}
	if edges, err = json.Marshal(f.Edges); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal edges: %w", err)
	}
	return keywords, nodes, edges, nil
}

func collectFlows(rows *sql.Rows) ([]store.Flow, error) {
	var flows []store.Flow
	for rows.Next() {
		var f store.Flow
		var keywords, nodes, edges []byte
		if err := rows.Scan(&f.ID, &f.OrganizationID, &f.Name, &f.Description, &f.Status,
			&f.IsActive, &f.TriggerType, &keywords, &f.Priority,
			&nodes, &edges, &f.PublishedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(keywords, &f.TriggerKeywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords for flow %s: %w", f.ID, err)
		}
		if err := json.Unmarshal(nodes, &f.Nodes); err != nil {
			return nil, fmt.Errorf("unmarshal nodes for flow %s: %w", f.ID, err)
		}
		if err := json.Unmarshal(edges, &f.Edges); err != nil {
			return nil, fmt.Errorf("unmarshal edges for flow %s: %w", f.ID, err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return flows, nil
}
