// Package storage persists accounts. The store is the only authority
// for committed state: the engines hand it a mutated working copy and
// readers get defensive clones back.
package storage

import (
	"context"

	"github.com/papertrade-io/paperbroker/internal/models"
)

// Interface defines the contract for account persistence.
//
// Implementations must be safe for concurrent use - callers can assume
// all methods are goroutine-safe and can safely call them from multiple
// goroutines. Save must be atomic per account and must reject any
// attempt to change an account's starting balance after creation.
type Interface interface {
	// Load returns the account or ErrNotFound.
	Load(ctx context.Context, id string) (*models.Account, error)
	// Save writes the account atomically, creating it if absent.
	Save(ctx context.Context, acct *models.Account) error
	// ListIDs returns every stored account id in sorted order.
	ListIDs(ctx context.Context) ([]string, error)
	// Close releases the store's resources.
	Close() error
}

// Ensure the implementations satisfy Interface.
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
