package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"clan-sync-bot/internal/domain"
)

// RedisStore реализует domain.ProfileStore поверх Redis.
// Каждый профиль хранится отдельным hash-ключом.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ domain.ProfileStore = (*RedisStore)(nil)

// NewRedis создаёт хранилище с указанным префиксом ключей.
func NewRedis(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ccsync"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) hashKey(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return fmt.Sprintf("%s:profile:%s", s.prefix, profile)
}

// Get возвращает значение ключа профиля.
func (s *RedisStore) Get(ctx context.Context, profile, key string) (string, error) {
	val, err := s.client.HGet(ctx, s.hashKey(profile), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("чтение ключа %s: %w", key, err)
	}
	return val, nil
}

// Set записывает значение ключа профиля.
func (s *RedisStore) Set(ctx context.Context, profile, key, value string) error {
	if err := s.client.HSet(ctx, s.hashKey(profile), key, value).Err(); err != nil {
		return fmt.Errorf("запись ключа %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ профиля.
func (s *RedisStore) Delete(ctx context.Context, profile, key string) error {
	if err := s.client.HDel(ctx, s.hashKey(profile), key).Err(); err != nil {
		return fmt.Errorf("удаление ключа %s: %w", key, err)
	}
	return nil
}
