// Package redisdb implements the ability to read and write the blockchain to
// a redis list keyed by the node name.
package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces the chain lists stored in redis.
const keyPrefix = "powchain:chain:"

// Config represents the information required to connect to redis.
type Config struct {
	Addrs   []string
	Name    string
	Timeout time.Duration
}

// RedisDB represents the serialization implementation for reading and
// storing blocks in redis. This implements the database.Storage interface.
type RedisDB struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// New constructs a RedisDB value and checks the connection.
func New(cfg Config) (*RedisDB, error) {
	if cfg.Name == "" {
		return nil, errors.New("node name is required")
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: cfg.Addrs,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", strings.Join(cfg.Addrs, ","), err)
	}

	rdb := RedisDB{
		client:  client,
		key:     keyPrefix + cfg.Name,
		timeout: cfg.Timeout,
	}

	return &rdb, nil
}

// Key returns the redis key holding the chain.
func (r *RedisDB) Key() string {
	return r.key
}

// Close releases the redis connection.
func (r *RedisDB) Close() error {
	return r.client.Close()
}

// Load reads the chain from redis. A missing key is an empty chain.
func (r *RedisDB) Load() ([]database.BlockData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	values, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.key, err)
	}

	blocks := make([]database.BlockData, len(values))
	for i, v := range values {
		if err := json.Unmarshal([]byte(v), &blocks[i]); err != nil {
			return nil, fmt.Errorf("reading %s: block %d: %w", r.key, i, err)
		}
	}

	return blocks, nil
}

// Save replaces the stored chain with the specified blocks inside a
// MULTI/EXEC transaction.
func (r *RedisDB) Save(blocks []database.BlockData) error {
	values := make([]any, len(blocks))
	for i, bd := range blocks {
		data, err := json.Marshal(bd)
		if err != nil {
			return fmt.Errorf("encoding block %d: %w", bd.Index, err)
		}
		values[i] = data
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	f := func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.RPush(ctx, r.key, values...)
		}
		return nil
	}

	if _, err := r.client.TxPipelined(ctx, f); err != nil {
		return fmt.Errorf("writing %s: %w", r.key, err)
	}

	return nil
}
