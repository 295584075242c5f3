package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot snapshot reads (accounts and order books, which every
// position recomputation touches). Writes go to the primary store and
// refresh the cache; reads check Redis first then fall back to the primary.
// History events are append-only audit data and pass through uncached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SaveAccount(ctx context.Context, account *model.MarginAccount) error {
	if err := s.primary.SaveAccount(ctx, account); err != nil {
		return err
	}
	s.cacheAccount(ctx, account)
	return nil
}

func (s *CachedStore) SaveOrderBook(ctx context.Context, pair string, book orderbook.Book) error {
	if err := s.primary.SaveOrderBook(ctx, pair, book); err != nil {
		return err
	}
	s.cacheBook(ctx, pair, book)
	return nil
}

func (s *CachedStore) AppendHistoryEvents(ctx context.Context, owner, asset string, events []model.RawHistoryEvent) error {
	return s.primary.AppendHistoryEvents(ctx, owner, asset, events)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, owner string) (*model.MarginAccount, error) {
	data, err := s.rdb.Get(ctx, accountKey(owner)).Bytes()
	if err == nil {
		var account model.MarginAccount
		if json.Unmarshal(data, &account) == nil {
			return &account, nil
		}
	}

	account, err := s.primary.GetAccount(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, account)
	return account, nil
}

func (s *CachedStore) GetOrderBook(ctx context.Context, pair string) (orderbook.Book, error) {
	data, err := s.rdb.Get(ctx, bookKey(pair)).Bytes()
	if err == nil {
		var book orderbook.Book
		if json.Unmarshal(data, &book) == nil {
			return book, nil
		}
	}

	book, err := s.primary.GetOrderBook(ctx, pair)
	if err != nil {
		return orderbook.Book{}, err
	}
	s.cacheBook(ctx, pair, book)
	return book, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetHistoryEvents(ctx context.Context, owner, asset string) ([]model.RawHistoryEvent, error) {
	return s.primary.GetHistoryEvents(ctx, owner, asset)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, account *model.MarginAccount) {
	if data, err := json.Marshal(account); err == nil {
		s.rdb.Set(ctx, accountKey(account.Owner), data, s.ttl)
	}
}

func (s *CachedStore) cacheBook(ctx context.Context, pair string, book orderbook.Book) {
	if data, err := json.Marshal(book); err == nil {
		s.rdb.Set(ctx, bookKey(pair), data, s.ttl)
	}
}

func accountKey(owner string) string { return fmt.Sprintf("account:%s", owner) }
func bookKey(pair string) string     { return fmt.Sprintf("book:%s", pair) }
