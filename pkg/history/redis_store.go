package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"callguard/pkg/analysis"
	"callguard/pkg/errors"
	"callguard/pkg/metrics"
)

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address      string
	Password     string
	Database     int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	redisOpTimeout  = 5 * time.Second
	redisTxAttempts = 3
)

// RedisStore keeps the history list as one JSON array value, so the layout
// matches the file store.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	logger *logrus.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config RedisConfig, key string, logger *logrus.Logger) (*RedisStore, error) {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewPersistenceError("connect", fmt.Errorf("failed to connect to Redis: %w", err))
	}

	logger.WithFields(logrus.Fields{
		"address":  config.Address,
		"database": config.Database,
	}).Info("Redis history store initialized")

	return NewRedisStoreWithClient(client, key, logger), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, key string, logger *logrus.Logger) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

func observe(operation string, start time.Time, err *error) {
	metrics.RecordHistoryOperation("redis", operation, time.Since(start), *err)
}

func decodeEntries(data string) ([]analysis.HistoryEntry, error) {
	var entries []analysis.HistoryEntry
	if data == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return entries, nil
}

// Append prepends under WATCH so concurrent writers do not lose entries
func (r *RedisStore) Append(ctx context.Context, entry analysis.HistoryEntry) (err error) {
	defer observe("append", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, r.key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		entries, err := decodeEntries(current)
		if err != nil {
			return err
		}
		data, err := json.Marshal(prepend(entries, entry))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisTxAttempts; attempt++ {
		err = r.client.Watch(ctx, txf, r.key)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return errors.NewPersistenceError("append", err)
	}

	r.logger.WithFields(logrus.Fields{
		"entry_id": entry.ID,
		"key":      r.key,
	}).Debug("History entry stored in Redis")
	return nil
}

func (r *RedisStore) List(ctx context.Context) (_ []analysis.HistoryEntry, err error) {
	defer observe("list", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.NewPersistenceError("list", err)
	}
	entries, err := decodeEntries(data)
	if err != nil {
		return nil, errors.NewPersistenceError("list", err)
	}
	if entries == nil {
		entries = []analysis.HistoryEntry{}
	}
	return entries, nil
}

func (r *RedisStore) Clear(ctx context.Context) (err error) {
	defer observe("clear", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return errors.NewPersistenceError("clear", err)
	}
	return nil
}

// Close closes the Redis client
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Health pings the Redis server
func (r *RedisStore) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
