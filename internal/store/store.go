// Package store defines the snapshot persistence interface for the margin
// engine. External collaborators push already-decoded account snapshots,
// order books, and raw history events here; the engine reads the latest
// snapshot on every computation and never diffs against previous state.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
)

// ErrNotFound is returned when no snapshot exists for the requested key.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Account snapshots (chain-state collaborator) ---

	// SaveAccount replaces the stored snapshot for the account's owner.
	SaveAccount(ctx context.Context, account *model.MarginAccount) error

	// GetAccount retrieves the latest snapshot for an owner.
	GetAccount(ctx context.Context, owner string) (*model.MarginAccount, error)

	// --- Order book snapshots (market-data collaborator) ---

	// SaveOrderBook replaces the stored book for a trading pair.
	SaveOrderBook(ctx context.Context, pair string, book orderbook.Book) error

	// GetOrderBook retrieves the latest book for a trading pair.
	GetOrderBook(ctx context.Context, pair string) (orderbook.Book, error)

	// --- Raw history events (log-decoding collaborator) ---

	// AppendHistoryEvents appends decoded ledger events for one asset of
	// one owner. Events are immutable once appended.
	AppendHistoryEvents(ctx context.Context, owner, asset string, events []model.RawHistoryEvent) error

	// GetHistoryEvents returns all events for one asset of one owner in
	// append order.
	GetHistoryEvents(ctx context.Context, owner, asset string) ([]model.RawHistoryEvent, error)
}
