package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisRepo struct {
	client *redis.Client
}

func New(ctx context.Context, addr, pass string, db int) (*RedisRepo, error) {
	const op = "storage.redis.New"

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     pass,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisRepo{
		client: client,
	}, nil
}

// * DenyAccessToken помечает access токен как отозванный до его
// естественного истечения. Logout должен инвалидировать токен, который
// структурно остается валидным до конца TTL.
func (r *RedisRepo) DenyAccessToken(ctx context.Context, tokenHash string, ttl time.Duration) error {
	const op = "storage.redis.DenyAccessToken"

	key := fmt.Sprintf("session:denied:%s", tokenHash)

	err := r.client.Set(ctx, key, "revoked", ttl).Err()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RedisRepo) IsAccessTokenDenied(ctx context.Context, tokenHash string) (bool, error) {
	const op = "storage.redis.IsAccessTokenDenied"

	key := fmt.Sprintf("session:denied:%s", tokenHash)

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

// * Close закрывает соединение с базой данных.
func (r *RedisRepo) Close() {
	r.client.Close()
}
