// Package store defines the persistence interface for the vault engine.
// The chain is the source of truth for pool state; the store keeps the
// latest fetched snapshot per pool plus the immutable receipts of trades
// confirmed through this service. Implementations include PostgreSQL,
// Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/Rajshah1302/fate-engine/internal/model"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// --- Pool snapshots ---

	// UpsertPoolSnapshot stores the latest fetched state of a pool,
	// replacing any previous snapshot.
	UpsertPoolSnapshot(ctx context.Context, pool *model.Pool) error

	// GetPoolSnapshot retrieves the latest snapshot of a pool.
	GetPoolSnapshot(ctx context.Context, id string) (*model.Pool, error)

	// ListPoolSnapshots returns all known pool snapshots, newest first.
	ListPoolSnapshots(ctx context.Context) ([]model.Pool, error)

	// --- Immutable trade receipts ---

	// InsertTradeReceipt appends a confirmed trade record.
	InsertTradeReceipt(ctx context.Context, receipt *model.TradeReceipt) error

	// GetTradeReceiptsByAddress returns all confirmed trades for an
	// address, oldest first.
	GetTradeReceiptsByAddress(ctx context.Context, address string) ([]model.TradeReceipt, error)

	// GetTradeReceiptsByPool returns all confirmed trades for a pool,
	// oldest first.
	GetTradeReceiptsByPool(ctx context.Context, poolID string) ([]model.TradeReceipt, error)
}
