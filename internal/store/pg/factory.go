package pg

import (
	"fmt"

	"github.com/threadlinehq/threadline/internal/store"
)

// NewPGStores creates all stores backed by Postgres (managed mode).
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return store.NewStores(
		NewPGOrganizationStore(db),
		NewPGConversationStore(db),
		NewPGFlowStore(db),
		NewPGCredentialStore(db, cfg.EncryptionKey),
		db.Close,
	), nil
}
