// Package redisstore implements delivery.MessageStore on Redis lists so
// pending notifications survive a process restart.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elwassit-org/api-translation-wasslago/internal/delivery"
)

const (
	defaultPrefix = "wasslago:"
	queueSegment  = "pending:"
	maxTxRetries  = 5
)

// Config holds Redis connection configuration.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	Prefix     string
	MaxPending int
	// KeyTTL expires an idle queue key; zero keeps keys until purged.
	KeyTTL time.Duration
}

// Store keeps one Redis list per identity, oldest message at the head.
type Store struct {
	client     *redis.Client
	prefix     string
	maxPending int
	keyTTL     time.Duration
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = delivery.DefaultMaxPending
	}
	return &Store{
		client:     client,
		prefix:     prefix,
		maxPending: maxPending,
		keyTTL:     cfg.KeyTTL,
	}
}

func (s *Store) key(identity string) string {
	return s.prefix + queueSegment + identity
}

// Enqueue implements delivery.MessageStore.
func (s *Store) Enqueue(ctx context.Context, msg delivery.PendingMessage) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal pending message: %w", err)
	}

	key := s.key(msg.Identity)
	var push *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-s.maxPending), -1)
		if s.keyTTL > 0 {
			pipe.Expire(ctx, key, s.keyTTL)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis enqueue: %w", err)
	}

	evicted := int(push.Val()) - s.maxPending
	if evicted < 0 {
		evicted = 0
	}
	return evicted, nil
}

// List implements delivery.MessageStore.
func (s *Store) List(ctx context.Context, identity string) ([]delivery.PendingMessage, error) {
	raw, err := s.client.LRange(ctx, s.key(identity), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	msgs := make([]delivery.PendingMessage, 0, len(raw))
	for _, r := range raw {
		var m delivery.PendingMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Remove implements delivery.MessageStore.
func (s *Store) Remove(ctx context.Context, identity, id string) error {
	key := s.key(identity)
	raw, _, err := s.find(ctx, s.client, key, id)
	if err != nil || raw == "" {
		return err
	}
	if err := s.client.LRem(ctx, key, 1, raw).Err(); err != nil {
		return fmt.Errorf("redis remove: %w", err)
	}
	return nil
}

// RecordFailure implements delivery.MessageStore. The read-modify-write runs
// under WATCH and is retried when the list changes underneath it.
func (s *Store) RecordFailure(ctx context.Context, identity, id string) (bool, error) {
	key := s.key(identity)
	var dropped bool

	txf := func(tx *redis.Tx) error {
		raw, msg, err := s.find(ctx, tx, key, id)
		if err != nil || raw == "" {
			dropped = false
			return err
		}

		msg.Attempts++
		dropped = msg.Exhausted()

		updated, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal pending message: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if dropped {
				pipe.LRem(ctx, key, 1, raw)
				return nil
			}
			// replace in place by inserting the update before the old entry
			pipe.LInsertBefore(ctx, key, raw, updated)
			pipe.LRem(ctx, key, 1, raw)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return dropped, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("redis record failure: %w", err)
	}
	return false, fmt.Errorf("redis record failure: %w", redis.TxFailedErr)
}

// Clear implements delivery.MessageStore.
func (s *Store) Clear(ctx context.Context, identity string) (int, error) {
	key := s.key(identity)
	var length *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		length = pipe.LLen(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis clear: %w", err)
	}
	return int(length.Val()), nil
}

// Purge implements delivery.MessageStore. Queue keys are found by prefix scan.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	pattern := s.prefix + queueSegment + "*"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()

	purged := 0
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return purged, fmt.Errorf("redis purge: %w", err)
		}

		for _, r := range raw {
			var m delivery.PendingMessage
			if err := json.Unmarshal([]byte(r), &m); err == nil && !m.EnqueuedAt.Before(cutoff) {
				// queues are in enqueue order
				break
			}
			n, err := s.client.LRem(ctx, key, 1, r).Result()
			if err != nil {
				return purged, fmt.Errorf("redis purge: %w", err)
			}
			purged += int(n)
		}
	}

	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("redis scan: %w", err)
	}
	return purged, nil
}

// Identities lists identities that currently have pending messages.
func (s *Store) Identities(ctx context.Context) ([]string, error) {
	base := s.prefix + queueSegment
	iter := s.client.Scan(ctx, 0, base+"*", 100).Iterator()

	var out []string
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), base))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

type lister interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// find returns the raw list entry and decoded message for id, or "" if absent.
func (s *Store) find(ctx context.Context, c lister, key, id string) (string, delivery.PendingMessage, error) {
	raw, err := c.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return "", delivery.PendingMessage{}, fmt.Errorf("redis list: %w", err)
	}
	for _, r := range raw {
		var m delivery.PendingMessage
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue
		}
		if m.ID == id {
			return r, m, nil
		}
	}
	return "", delivery.PendingMessage{}, nil
}

var _ delivery.MessageStore = (*Store)(nil)
