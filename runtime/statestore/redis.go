package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore provides a Redis-backed implementation of the Store interface.
// Documents are stored as JSON with an optional TTL. A per-task set indexes
// document IDs for filtered listing.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for stored documents.
// Default is 24 hours. Set to 0 for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "mat".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed document store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(7 * 24 * time.Hour),
//	    WithPrefix("deid"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTLHours * time.Hour,
		prefix: "mat",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Load retrieves a document by ID from Redis.
func (s *RedisStore) Load(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.documentKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &doc, nil
}

// Save persists a document with TTL. The SET and the task index update are
// sent in one pipeline.
func (s *RedisStore) Save(ctx context.Context, doc *Document) error {
	if err := validateDocument(doc); err != nil {
		return err
	}

	doc.UpdatedAt = time.Now()
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.documentKey(doc.ID), data, s.ttl)
	if doc.Task != "" {
		indexKey := s.taskIndexKey(doc.Task)
		pipe.SAdd(ctx, indexKey, doc.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, indexKey, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// Delete removes a document and its task index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	doc, err := s.Load(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	delCmd := pipe.Del(ctx, s.documentKey(id))
	if doc.Task != "" {
		pipe.SRem(ctx, s.taskIndexKey(doc.Task), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}

	if delCmd.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns document IDs matching opts. Index entries whose document has
// expired are dropped.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]string, error) {
	var ids []string
	var err error
	if opts.Task != "" {
		ids, err = s.fetchTaskDocuments(ctx, opts.Task)
	} else {
		ids, err = s.scanAllDocuments(ctx)
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return paginate(ids, opts.Offset, opts.Limit), nil
}

func (s *RedisStore) fetchTaskDocuments(ctx context.Context, task string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.taskIndexKey(task)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	if len(members) == 0 {
		return members, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, id := range members {
		cmds[i] = pipe.Exists(ctx, s.documentKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	live := members[:0]
	for i, id := range members {
		if cmds[i].Val() > 0 {
			live = append(live, id)
		}
	}
	return live, nil
}

func (s *RedisStore) scanAllDocuments(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.documentKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		if id := s.extractIDFromKey(iter.Val()); id != "" {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) documentKey(id string) string {
	return fmt.Sprintf("%s:document:%s", s.prefix, id)
}

func (s *RedisStore) taskIndexKey(task string) string {
	return fmt.Sprintf("%s:task:%s:documents", s.prefix, task)
}

func (s *RedisStore) extractIDFromKey(key string) string {
	return strings.TrimPrefix(key, s.prefix+":document:")
}
