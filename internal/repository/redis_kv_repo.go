package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKVRepo はRedisを使用したKVリポジトリ。
// ttlが0より大きい場合、書き込みのたびに有効期限を更新する。
type RedisKVRepo struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKVRepo はRedisKVRepoを生成する。
func NewRedisKVRepo(client *redis.Client, ttl time.Duration) *RedisKVRepo {
	return &RedisKVRepo{client: client, ttl: ttl}
}

// Get は指定キーの値を取得する。キーが存在しない場合は ok=false を返す。
func (r *RedisKVRepo) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key from redis: %w", err)
	}
	return v, true, nil
}

// Set は指定キーに値を保存する。
func (r *RedisKVRepo) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key in redis: %w", err)
	}
	return nil
}

// Delete は指定キーを削除する。
func (r *RedisKVRepo) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys from redis: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。ヘルスチェック用。
func (r *RedisKVRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// compile-time interface check
var _ KVRepository = (*RedisKVRepo)(nil)
