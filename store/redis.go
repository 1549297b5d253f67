package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PRESENCE/logger"

	"github.com/redis/go-redis/v9"
)

const (
	redisValuePrefix = "presence:v:"
	redisIndexPrefix = "presence:i:"
	redisMaxRetries  = 5
)

// RedisStore keeps each record as a JSON string and maintains one set per path
// listing its child names. Update uses WATCH on the record key so concurrent
// updates to the same path are retried instead of lost.
type RedisStore struct {
	Client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client, now: time.Now}
}

func valueKey(path string) string { return redisValuePrefix + path }
func indexKey(path string) string { return redisIndexPrefix + path }

func (s *RedisStore) Read(ctx context.Context, path string) (Record, bool, error) {
	if err := validPath(path); err != nil {
		return nil, false, err
	}
	raw, err := s.Client.Get(ctx, valueKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		logger.Error("redis error occured while running Read", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "path",
			Data: path,
		})
		return nil, false, err
	}
	rec, err := decode(raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *RedisStore) Write(ctx context.Context, path string, value Record) error {
	if err := validPath(path); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, valueKey(path), raw, 0)
		addToIndexes(ctx, pipe, path)
		return nil
	})
	return err
}

func (s *RedisStore) Update(ctx context.Context, path string, fields Record) error {
	if err := validPath(path); err != nil {
		return err
	}
	key := valueKey(path)
	txf := func(tx *redis.Tx) error {
		current := Record{}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if current, err = decode(raw); err != nil {
				return err
			}
		}
		next, err := json.Marshal(merge(current, fields))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			addToIndexes(ctx, pipe, path)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.Client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	logger.Warning("redis update gave up after retries", logger.LoggerOptions{
		Key:  "path",
		Data: path,
	})
	return ErrConflict
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	if err := validPath(path); err != nil {
		return err
	}
	parent, leaf := Split(path)
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, valueKey(path))
		if parent != "" {
			pipe.SRem(ctx, indexKey(parent), leaf)
		}
		return nil
	})
	return err
}

func (s *RedisStore) PushKey(ctx context.Context, path string) (string, error) {
	if err := validPath(path); err != nil {
		return "", err
	}
	return NewPushKey(s.now()), nil
}

func (s *RedisStore) Children(ctx context.Context, path string) (map[string]Record, error) {
	names, err := s.Keys(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(names))
	if len(names) == 0 {
		return out, nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = valueKey(Join(path, n))
	}
	vals, err := s.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// intermediate node or already deleted
			continue
		}
		rec, err := decode([]byte(str))
		if err != nil {
			continue
		}
		out[names[i]] = rec
	}
	return out, nil
}

func (s *RedisStore) Keys(ctx context.Context, path string) ([]string, error) {
	if err := validPath(path); err != nil {
		return nil, err
	}
	members, err := s.Client.SMembers(ctx, indexKey(path)).Result()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return sortedKeys(set), nil
}

// addToIndexes registers path under every ancestor so Keys can walk the tree.
func addToIndexes(ctx context.Context, pipe redis.Pipeliner, path string) {
	for parent, leaf := Split(path); parent != ""; parent, leaf = Split(parent) {
		pipe.SAdd(ctx, indexKey(parent), leaf)
	}
}
