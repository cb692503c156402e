package wallettype

import (
	"context"
	"log"
	"sync"

	"walletsync/pkg/config"
	"walletsync/pkg/model"
)

// Fetcher loads a backend resource on behalf of a user.
type Fetcher interface {
	GetAuthorized(ctx context.Context, userID, url string, out interface{}) error
}

// Cache memoizes wallet-type lists per user until explicitly cleared.
// Concurrent misses for one user may each hit the backend; the first
// result stored wins.
type Cache struct {
	cfg   *config.Store
	fetch Fetcher

	mu      sync.RWMutex
	entries map[string][]model.WalletType
}

func NewCache(cfg *config.Store, fetch Fetcher) *Cache {
	return &Cache{cfg: cfg, fetch: fetch, entries: map[string][]model.WalletType{}}
}

// Get returns the wallet types for userID. A failed lookup yields an empty
// list and leaves the cache untouched so the next call retries.
func (c *Cache) Get(ctx context.Context, userID string) []model.WalletType {
	c.mu.RLock()
	list, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok {
		return clone(list)
	}

	var fetched []model.WalletType
	if err := c.fetch.GetAuthorized(ctx, userID, c.cfg.WalletTypesURL(userID), &fetched); err != nil {
		log.Printf("wallet types lookup failed user=%s: %v", userID, err)
		return []model.WalletType{}
	}
	if fetched == nil {
		fetched = []model.WalletType{}
	}

	c.mu.Lock()
	if existing, ok := c.entries[userID]; ok {
		fetched = existing
	} else {
		c.entries[userID] = fetched
	}
	c.mu.Unlock()
	return clone(fetched)
}

// Clear drops the listed users, or every entry when called without arguments.
func (c *Cache) Clear(userIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(userIDs) == 0 {
		c.entries = map[string][]model.WalletType{}
		return
	}
	for _, id := range userIDs {
		delete(c.entries, id)
	}
}

// Len reports how many users are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func clone(list []model.WalletType) []model.WalletType {
	out := make([]model.WalletType, len(list))
	copy(out, list)
	return out
}
