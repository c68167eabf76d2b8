package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "tourmate:session:"

// RedisJournal implements Journal on a Redis list per session.
// Keys expire after the configured TTL, which bounds the journal to the
// lifetime of a session.
type RedisJournal struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix (default: "tourmate:session:").
	Prefix string `yaml:"prefix"`
	// TTL is how long an idle session's journal survives (0 = never expire).
	TTL time.Duration `yaml:"ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

// NewRedisJournal connects to Redis and returns a journal.
func NewRedisJournal(cfg RedisConfig) (*RedisJournal, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisJournalFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisJournalFromClient creates a journal from an existing client.
func NewRedisJournalFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisJournal {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisJournal{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (j *RedisJournal) turnsKey(sessionID string) string {
	return j.prefix + "turns:" + sessionID
}

func (j *RedisJournal) checkOpen() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrJournalClosed
	}
	return nil
}

// AppendPair pushes both turns inside one MULTI/EXEC transaction.
func (j *RedisJournal) AppendPair(ctx context.Context, sessionID string, pair [2]Turn) error {
	if err := j.checkOpen(); err != nil {
		return err
	}

	values := make([]any, 0, len(pair))
	for _, t := range pair {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		values = append(values, data)
	}

	key := j.turnsKey(sessionID)
	_, err := j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if j.ttl > 0 {
			pipe.Expire(ctx, key, j.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append pair: %w", err)
	}
	return nil
}

// Reset deletes the session's list.
func (j *RedisJournal) Reset(ctx context.Context, sessionID string) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	if err := j.client.Del(ctx, j.turnsKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

// Load reads every recorded turn in order.
func (j *RedisJournal) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	data, err := j.client.LRange(ctx, j.turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrSessionNotFound
	}

	turns := make([]Turn, 0, len(data))
	for _, d := range data {
		var t Turn
		if err := json.Unmarshal([]byte(d), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Ping checks if the Redis connection is alive.
func (j *RedisJournal) Ping(ctx context.Context) error {
	if err := j.checkOpen(); err != nil {
		return err
	}
	return j.client.Ping(ctx).Err()
}

// Close releases the client.
func (j *RedisJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.client.Close()
}
