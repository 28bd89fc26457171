// Package rediscache keeps the local library snapshot in Redis, for setups
// where several processes on one machine share the last known-good copy.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amaumene/shelfsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const snapshotSlot = "library_snapshot"

// Cache stores the snapshot under a single key per user
type Cache struct {
	client *redis.Client
	key    string
}

// NewClient connects to Redis and verifies the connection
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// New creates a snapshot cache for userID
func New(client *redis.Client, userID string) *Cache {
	return &Cache{
		client: client,
		key:    fmt.Sprintf("shelfsync:%s:%s", userID, snapshotSlot),
	}
}

// SaveSnapshot replaces the cached snapshot
func (c *Cache) SaveSnapshot(ctx context.Context, items []models.LibraryItem) error {
	if items == nil {
		items = []models.LibraryItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the cached snapshot, or an empty list if there is none
func (c *Cache) LoadSnapshot(ctx context.Context) ([]models.LibraryItem, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.LibraryItem{}, nil
	}
	if err != nil {
		return []models.LibraryItem{}, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var items []models.LibraryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return []models.LibraryItem{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return items, nil
}

// Close closes the Redis client
func (c *Cache) Close() error {
	return c.client.Close()
}
