package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/threadlinehq/threadline/internal/store"
)

// PGFlowStore implements store.FlowStore backed by Postgres. Trigger
// keywords live in a text[] column; nodes and edges in JSONB.
type PGFlowStore struct {
	db *sql.DB
}

func NewPGFlowStore(db *sql.DB) *PGFlowStore {
	return &PGFlowStore{db: db}
}

const flowSelectCols = `id, organization_id, name, description, status, is_active, trigger_type, trigger_keywords, priority, nodes, edges, published_at, created_at, updated_at`

func (s *PGFlowStore) Create(ctx context.Context, f *store.Flow) error {
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

	nodes, edges, err := marshalGraph(f)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flows (id, organization_id, name, description, status, is_active, trigger_type, trigger_keywords, priority, nodes, edges, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		f.ID, f.OrganizationID, f.Name, f.Description, f.Status, f.IsActive,
		f.TriggerType, pq.Array(f.TriggerKeywords), f.Priority, nodes, edges,
		f.CreatedAt, f.UpdatedAt)
	return err
}

func (s *PGFlowStore) Get(ctx context.Context, id uuid.UUID) (*store.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flowSelectCols+` FROM flows WHERE id = $1`, id)
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

func (s *PGFlowStore) Update(ctx context.Context, f *store.Flow) error {
	f.UpdatedAt = time.Now()
	nodes, edges, err := marshalGraph(f)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flows SET name = $1, description = $2, trigger_type = $3, trigger_keywords = $4,
		 priority = $5, nodes = $6, edges = $7, updated_at = $8 WHERE id = $9`,
		f.Name, f.Description, f.TriggerType, pq.Array(f.TriggerKeywords),
		f.Priority, nodes, edges, f.UpdatedAt, f.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGFlowStore) ListEligible(ctx context.Context, orgID uuid.UUID) ([]store.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flowSelectCols+` FROM flows
		 WHERE organization_id = $1 AND status = $2 AND is_active = true
		 ORDER BY priority ASC, created_at ASC`,
		orgID, store.FlowPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *PGFlowStore) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]store.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flowSelectCols+` FROM flows
		 WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFlows(rows)
}

func (s *PGFlowStore) SetStatus(ctx context.Context, id uuid.UUID, status string, isActive bool) (*store.Flow, error) {
	var publishedAt any
	if status == store.FlowPublished {
		publishedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE flows SET status = $1, is_active = $2, published_at = COALESCE($3, published_at), updated_at = now()
		 WHERE id = $4`,
		status, isActive, publishedAt, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.Get(ctx, id)
}

func marshalGraph(f *store.Flow) (nodes, edges []byte, err error) {
	if nodes, err = json.Marshal(f.Nodes); err != nil {
		return nil, nil, fmt.Errorf("marshal nodes: %w", err)
	}
	if edges, err = json.Marshal(f.Edges); err != nil {
		return nil, nil, fmt.Errorf("marshal edges: %w", err)
	}
	return nodes, edges, nil
}

func collectFlows(rows *sql.Rows) ([]store.Flow, error) {
	var flows []store.Flow
	for rows.Next() {
		var f store.Flow
		var desc sql.NullString
		var nodes, edges []byte
		if err := rows.Scan(&f.ID, &f.OrganizationID, &f.Name, &desc, &f.Status,
			&f.IsActive, &f.TriggerType, pq.Array(&f.TriggerKeywords), &f.Priority,
			&nodes, &edges, &f.PublishedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		f.Description = desc.String
		if len(nodes) > 0 {
			if err := json.Unmarshal(nodes, &f.Nodes); err != nil {
				return nil, fmt.Errorf("unmarshal nodes for flow %s: %w", f.ID, err)
			}
		}
		if len(edges) > 0 {
			if err := json.Unmarshal(edges, &f.Edges); err != nil {
				return nil, fmt.Errorf("unmarshal edges for flow %s: %w", f.ID, err)
			}
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return flows, nil
}
