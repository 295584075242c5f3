package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/OasisDEX/xDex-sub000/internal/model"
	"github.com/OasisDEX/xDex-sub000/internal/orderbook"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Whole snapshots are stored as JSONB (shopspring decimals marshal as
// strings, so no precision is lost); history events use NUMERIC columns
// for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveAccount(ctx context.Context, account *model.MarginAccount) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("marshal account %s: %w", account.Owner, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO margin_accounts (owner, snapshot, updated_at)
		 VALUES ($1, $2::JSONB, NOW())
		 ON CONFLICT (owner) DO UPDATE SET snapshot = $2::JSONB, updated_at = NOW()`,
		account.Owner, data,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, owner string) (*model.MarginAccount, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM margin_accounts WHERE owner = $1`, owner).
		Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", owner, err)
	}

	var account model.MarginAccount
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("unmarshal account %s: %w", owner, err)
	}
	return &account, nil
}

func (s *PostgresStore) SaveOrderBook(ctx context.Context, pair string, book orderbook.Book) error {
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("marshal book %s: %w", pair, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO order_books (pair, snapshot, updated_at)
		 VALUES ($1, $2::JSONB, NOW())
		 ON CONFLICT (pair) DO UPDATE SET snapshot = $2::JSONB, updated_at = NOW()`,
		pair, data,
	)
	return err
}

func (s *PostgresStore) GetOrderBook(ctx context.Context, pair string) (orderbook.Book, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM order_books WHERE pair = $1`, pair).
		Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderbook.Book{}, ErrNotFound
	}
	if err != nil {
		return orderbook.Book{}, fmt.Errorf("get book %s: %w", pair, err)
	}

	var book orderbook.Book
	if err := json.Unmarshal(data, &book); err != nil {
		return orderbook.Book{}, fmt.Errorf("unmarshal book %s: %w", pair, err)
	}
	return book, nil
}

func (s *PostgresStore) AppendHistoryEvents(ctx context.Context, owner, asset string, events []model.RawHistoryEvent) error {
	for _, ev := range events {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO history_events (owner, asset, kind, tx_hash, amount, dai_amount, timestamp)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
			owner, asset, string(ev.Kind), ev.TxHash,
			ev.Amount.String(), ev.DAIAmount.String(), ev.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append event for %s/%s: %w", owner, asset, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetHistoryEvents(ctx context.Context, owner, asset string) ([]model.RawHistoryEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, tx_hash, amount::TEXT, dai_amount::TEXT, timestamp
		 FROM history_events
		 WHERE owner = $1 AND asset = $2
		 ORDER BY timestamp, id`, owner, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.RawHistoryEvent
	for rows.Next() {
		var ev model.RawHistoryEvent
		var kind, amountS, daiS string
		if err := rows.Scan(&kind, &ev.TxHash, &amountS, &daiS, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Kind = model.EventKind(kind)
		ev.Amount, _ = decimal.NewFromString(amountS)
		ev.DAIAmount, _ = decimal.NewFromString(daiS)
		events = append(events, ev)
	}
	return events, rows.Err()
}
