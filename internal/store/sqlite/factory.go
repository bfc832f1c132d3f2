package sqlite

import (
	"fmt"

	"github.com/threadlinehq/threadline/internal/store"
)

// NewSQLiteStores creates all stores backed by a local SQLite file
// (standalone mode).
func NewSQLiteStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return store.NewStores(
		NewOrganizationStore(db),
		NewConversationStore(db),
		NewFlowStore(db),
		NewCredentialStore(db, cfg.EncryptionKey),
		db.Close,
	), nil
}
