package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore is an optional Store backend for deployments that already run
// Redis next to the tracker. Entries live under a key prefix so Clear can
// sweep them without touching other tenants. Values round-trip through
// JSON, so cached payloads come back as generic maps.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStoreFromURL builds a store from a redis:// URL, the form the
// configuration carries.
func NewRedisStoreFromURL(rawURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(opts.Addr, opts.Password, opts.DB, prefix), nil
}

func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if prefix == "" {
		prefix = "tracker:plugin:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: time.Hour}
}

func (r *RedisStore) Get(key string) (any, bool) {
	raw, err := r.client.Get(context.Background(), r.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("redis cache get failed")
		}
		return nil, false
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		log.Warn().Err(err).Msg("redis cache entry undecodable, dropping")
		r.client.Del(context.Background(), r.prefix+key)
		return nil, false
	}
	return value, true
}

func (r *RedisStore) Set(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Msg("redis cache set: value not serializable")
		return
	}
	if err := r.client.Set(context.Background(), r.prefix+key, data, r.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("redis cache set failed")
	}
}

// Clear deletes every key under the prefix. SCAN keeps it safe on shared
// instances.
func (r *RedisStore) Clear() {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Msg("redis cache clear failed")
	}
}

func (r *RedisStore) Len() int {
	ctx := context.Background()
	count := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
