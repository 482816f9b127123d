// Package cache provides a local bbolt-backed result cache for deployments
// without a shared cache service.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"visearch/internal/domain"
)

var bucketResults = []byte("search_results")

// BoltCache stores search results with per-entry expiry in a local bolt file.
type BoltCache struct {
	db *bbolt.DB
}

type envelope struct {
	ExpiresAt int64                `json:"expires_at"`
	Data      domain.CachedResults `json:"data"`
}

func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResults)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltCache{db: db}, nil
}

// Put replaces any previous entry for the search.
func (c *BoltCache) Put(ctx context.Context, searchID uuid.UUID, results domain.CachedResults, ttl time.Duration) error {
	env := envelope{
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Data:      results,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResults).Put([]byte(searchID.String()), data)
	})
}

// Get returns the cached results, deleting entries whose ttl has passed.
func (c *BoltCache) Get(ctx context.Context, searchID uuid.UUID) (domain.CachedResults, bool, error) {
	key := []byte(searchID.String())

	var env envelope
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketResults).Get(key)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("corrupt cache entry %s: %w", searchID, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return domain.CachedResults{}, false, err
	}
	if !found {
		return domain.CachedResults{}, false, nil
	}

	if time.Now().Unix() >= env.ExpiresAt {
		err = c.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketResults).Delete(key)
		})
		return domain.CachedResults{}, false, err
	}

	return env.Data, true, nil
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}
