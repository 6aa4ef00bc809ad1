package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Rajshah1302/fate-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	pools    map[string]*model.Pool
	receipts []model.TradeReceipt
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[string]*model.Pool),
	}
}

func (s *MemoryStore) UpsertPoolSnapshot(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *p
	s.pools[p.ID] = &copy
	return nil
}

func (s *MemoryStore) GetPoolSnapshot(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPoolSnapshots(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].FetchedAt.After(pools[j].FetchedAt)
	})
	return pools, nil
}

func (s *MemoryStore) InsertTradeReceipt(_ context.Context, r *model.TradeReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts = append(s.receipts, *r)
	return nil
}

func (s *MemoryStore) GetTradeReceiptsByAddress(_ context.Context, address string) ([]model.TradeReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeReceipt
	for _, r := range s.receipts {
		if r.Address == address {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradeReceiptsByPool(_ context.Context, poolID string) ([]model.TradeReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeReceipt
	for _, r := range s.receipts {
		if r.PoolID == poolID {
			result = append(result, r)
		}
	}
	return result, nil
}
