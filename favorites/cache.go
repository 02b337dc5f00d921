// Package favorites keeps the session-lived productID -> favoriteID mapping,
// backfilled lazily from the remote favorites API.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/snaplook/scraper/models"
)

// ErrFavoriteNotFound is returned when removing a product that is not a favorite
var ErrFavoriteNotFound = errors.New("favorite not found")

// Remote is the part of the detection client the cache needs
type Remote interface {
	CheckFavorites(ctx context.Context, productIDs []string) (map[string]string, error)
	AddFavorite(ctx context.Context, item models.DetectionResultItem) (string, error)
	RemoveFavorite(ctx context.Context, favoriteID string) error
}

// Cache maps product ids to favorite ids. Entries never expire. Every write,
// single or batch, happens under one lock so readers never see half a batch.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string // productID -> favoriteID
	remote  Remote
	logger  *slog.Logger
}

// New creates an empty cache backed by remote
func New(remote Remote) *Cache {
	return &Cache{
		entries: make(map[string]string),
		remote:  remote,
		logger:  slog.Default().With("component", "favorites"),
	}
}

// Get reads the cache without touching the network
func (c *Cache) Get(productID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.entries[productID]
	return id, ok
}

// Lookup returns the favorite id for a product. A miss triggers one remote
// check whose answer is merged before the cache is read again.
func (c *Cache) Lookup(ctx context.Context, productID string) (string, bool, error) {
	if id, ok := c.Get(productID); ok {
		return id, true, nil
	}
	if err := c.Refresh(ctx, []string{productID}); err != nil {
		return "", false, err
	}
	id, ok := c.Get(productID)
	return id, ok, nil
}

// Refresh asks the remote about productIDs and applies the answer as one
// batch: listed products are stored, checked but unlisted ones are dropped.
func (c *Cache) Refresh(ctx context.Context, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	found, err := c.remote.CheckFavorites(ctx, productIDs)
	if err != nil {
		return fmt.Errorf("failed to refresh favorites: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range productIDs {
		if _, ok := found[id]; !ok {
			delete(c.entries, id)
		}
	}
	for productID, favoriteID := range found {
		if productID != "" && favoriteID != "" {
			c.entries[productID] = favoriteID
		}
	}
	c.logger.Debug("favorites refreshed", "checked", len(productIDs), "favorites", len(found))
	return nil
}

// Merge stores a batch of mappings atomically
func (c *Cache) Merge(batch map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for productID, favoriteID := range batch {
		if productID != "" && favoriteID != "" {
			c.entries[productID] = favoriteID
		}
	}
}

// Add favorites item remotely and records the mapping. Adding a product
// that is already cached returns the known id without a remote call.
func (c *Cache) Add(ctx context.Context, item models.DetectionResultItem) (string, error) {
	if id, ok := c.Get(item.ID); ok {
		return id, nil
	}
	favoriteID, err := c.remote.AddFavorite(ctx, item)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[item.ID] = favoriteID
	c.mu.Unlock()
	return favoriteID, nil
}

// Remove deletes the product's favorite remotely, then forgets the mapping
func (c *Cache) Remove(ctx context.Context, productID string) error {
	favoriteID, ok, err := c.Lookup(ctx, productID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFavoriteNotFound
	}
	if err := c.remote.RemoveFavorite(ctx, favoriteID); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.entries, productID)
	c.mu.Unlock()
	return nil
}

// IsFavorite reports whether the product is cached as a favorite
func (c *Cache) IsFavorite(productID string) bool {
	_, ok := c.Get(productID)
	return ok
}

// Snapshot copies the current mapping
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of cached favorites
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
