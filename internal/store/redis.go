package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rajshah1302/fate-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
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

// --- Write-through (write to primary, refresh or invalidate cache) ---

func (s *CachedStore) UpsertPoolSnapshot(ctx context.Context, p *model.Pool) error {
	if err := s.primary.UpsertPoolSnapshot(ctx, p); err != nil {
		return err
	}
	s.cachePool(ctx, p)
	return nil
}

func (s *CachedStore) InsertTradeReceipt(ctx context.Context, r *model.TradeReceipt) error {
	if err := s.primary.InsertTradeReceipt(ctx, r); err != nil {
		return err
	}
	// A confirmed trade changes the pool's reserves; the cached snapshot
	// is stale until the next fetch. Invalidate both.
	s.rdb.Del(ctx, poolKey(r.PoolID), tradesKey(r.Address))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPoolSnapshot(ctx context.Context, id string) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(id)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPoolSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, p)
	return p, nil
}

func (s *CachedStore) GetTradeReceiptsByAddress(ctx context.Context, address string) ([]model.TradeReceipt, error) {
	data, err := s.rdb.Get(ctx, tradesKey(address)).Bytes()
	if err == nil {
		var receipts []model.TradeReceipt
		if json.Unmarshal(data, &receipts) == nil {
			return receipts, nil
		}
	}

	receipts, err := s.primary.GetTradeReceiptsByAddress(ctx, address)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(receipts); err == nil {
		s.rdb.Set(ctx, tradesKey(address), data, s.ttl)
	}
	return receipts, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPoolSnapshots(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPoolSnapshots(ctx)
}

func (s *CachedStore) GetTradeReceiptsByPool(ctx context.Context, poolID string) ([]model.TradeReceipt, error) {
	return s.primary.GetTradeReceiptsByPool(ctx, poolID)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.Pool) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.ID), data, s.ttl)
	}
}

func poolKey(id string) string       { return fmt.Sprintf("pool:%s", id) }
func tradesKey(addr string) string   { return fmt.Sprintf("trades:%s", addr) }
