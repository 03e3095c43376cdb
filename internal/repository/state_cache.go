package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ProxyTrader/internal/domain/models"
	domrepo "ProxyTrader/internal/domain/repository"
	"ProxyTrader/pkg/cache"
)

// CacheStateStore keeps risk snapshots in a cache.Service: Redis for live
// instances, memory for replay runs.
type CacheStateStore struct {
	kv  cache.Service
	ttl time.Duration
}

func NewCacheStateStore(kv cache.Service, ttl time.Duration) *CacheStateStore {
	return &CacheStateStore{kv: kv, ttl: ttl}
}

func stateKey(symbol string) string { return "risk:" + strings.ToUpper(symbol) }

func lockKey(symbol string) string { return "lock:engine:" + strings.ToUpper(symbol) }

func (s *CacheStateStore) Load(ctx context.Context, symbol string) (*models.TradingState, error) {
	var st models.TradingState
	if err := s.kv.Get(ctx, stateKey(symbol), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state %s: %w", symbol, err)
	}
	return &st, nil
}

// Save refreshes the TTL on every write.
func (s *CacheStateStore) Save(ctx context.Context, st models.TradingState) error {
	if st.Symbol == "" {
		return fmt.Errorf("save state: empty symbol")
	}
	if err := s.kv.Set(ctx, stateKey(st.Symbol), st, s.ttl); err != nil {
		return fmt.Errorf("save state %s: %w", st.Symbol, err)
	}
	return nil
}

func (s *CacheStateStore) Clear(ctx context.Context, symbol string) error {
	return s.kv.Delete(ctx, stateKey(symbol))
}

// Acquire takes the single-writer lease for symbol. It returns false when
// another engine already holds it.
func (s *CacheStateStore) Acquire(ctx context.Context, symbol string, lease time.Duration) (bool, error) {
	return s.kv.TryLock(ctx, lockKey(symbol), lease)
}

// Renew extends a lease this instance already holds.
func (s *CacheStateStore) Renew(ctx context.Context, symbol string, lease time.Duration) error {
	return s.kv.Set(ctx, lockKey(symbol), "locked", lease)
}

func (s *CacheStateStore) Release(ctx context.Context, symbol string) error {
	return s.kv.Unlock(ctx, lockKey(symbol))
}

var _ domrepo.StateStore = (*CacheStateStore)(nil)
