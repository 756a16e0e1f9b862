package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "valuation:version"
	// InvalidationChannel carries catalog account changes published by the host ERP.
	InvalidationChannel = "catalog.accounts.bump"
)

// Cache stores valuation groups in Redis behind a version counter.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates every cached group.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// ValuationGroups returns cached groups for productIDs or fills the cache
// from loader. Concurrent fills for the same key share one loader call.
func (c *Cache) ValuationGroups(ctx context.Context, productIDs []int64, loader func(context.Context) (map[int64][]int64, error)) (map[int64][]int64, error) {
	if loader == nil {
		return nil, errors.New("valuation: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return nil, err
	}
	key := groupsKey(ver, productIDs)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var groups map[int64][]int64
		if err := json.Unmarshal(payload, &groups); err != nil {
			return nil, err
		}
		return groups, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		groups, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(groups)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(map[int64][]int64), nil
}

// ListenForInvalidation bumps the version whenever the catalog publishes on
// channel. It returns immediately; the subscription ends with ctx.
func (c *Cache) ListenForInvalidation(ctx context.Context, channel string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if channel == "" {
		channel = InvalidationChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				_ = c.client.Incr(ctx, cacheVersionKey).Err()
			}
		}
	}()
	return nil
}

// groupsKey digests the sorted ids so the key length does not grow with the batch.
func groupsKey(version int64, productIDs []int64) string {
	parts := make([]string, 0, len(productIDs))
	for _, id := range sortedIDs(productIDs) {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	digest := uuid.NewSHA1(uuid.Nil, []byte(strings.Join(parts, ",")))
	return fmt.Sprintf("valuation:groups:%s:%d", digest, version)
}
