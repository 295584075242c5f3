package store

import (
	"context"
	"sync"

	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.MarginAccount
	books    map[string]orderbook.Book
	events   map[string][]model.RawHistoryEvent // owner/asset → append-ordered events
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.MarginAccount),
		books:    make(map[string]orderbook.Book),
		events:   make(map[string][]model.RawHistoryEvent),
	}
}

func eventsKey(owner, asset string) string { return owner + "/" + asset }

func (s *MemoryStore) SaveAccount(_ context.Context, account *model.MarginAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *account
	cp.Collaterals = append([]model.CollateralAssetCore(nil), account.Collaterals...)
	s.accounts[account.Owner] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, owner string) (*model.MarginAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[owner]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	cp.Collaterals = append([]model.CollateralAssetCore(nil), a.Collaterals...)
	return &cp, nil
}

func (s *MemoryStore) SaveOrderBook(_ context.Context, pair string, book orderbook.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := orderbook.Book{
		Buy:  append([]orderbook.Offer(nil), book.Buy...),
		Sell: append([]orderbook.Offer(nil), book.Sell...),
	}
	s.books[pair] = cp
	return nil
}

func (s *MemoryStore) GetOrderBook(_ context.Context, pair string) (orderbook.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.books[pair]
	if !ok {
		return orderbook.Book{}, ErrNotFound
	}
	return orderbook.Book{
		Buy:  append([]orderbook.Offer(nil), b.Buy...),
		Sell: append([]orderbook.Offer(nil), b.Sell...),
	}, nil
}

func (s *MemoryStore) AppendHistoryEvents(_ context.Context, owner, asset string, events []model.RawHistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventsKey(owner, asset)
	s.events[key] = append(s.events[key], events...)
	return nil
}

func (s *MemoryStore) GetHistoryEvents(_ context.Context, owner, asset string) ([]model.RawHistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[eventsKey(owner, asset)]
	return append([]model.RawHistoryEvent(nil), evs...), nil
}
