package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clan-sync-bot/internal/domain"
)

// PostgresStore реализует domain.ProfileStore поверх таблицы profile_kv.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ domain.ProfileStore = (*PostgresStore)(nil)

// ConnectPostgres создаёт пул подключений к Postgres.
func ConnectPostgres(dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// NewPostgres создаёт адаптер хранилища.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func normalizeProfile(profile string) string {
	if profile == "" {
		return "default"
	}
	return profile
}

// Get возвращает значение ключа профиля.
func (s *PostgresStore) Get(ctx context.Context, profile, key string) (string, error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM profile_kv WHERE profile = $1 AND key = $2`,
		normalizeProfile(profile), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("чтение ключа %s: %w", key, err)
	}
	return value, nil
}

// Set записывает значение ключа профиля.
func (s *PostgresStore) Set(ctx context.Context, profile, key, value string) error {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profile_kv (profile, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (profile, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		normalizeProfile(profile), key, value)
	if err != nil {
		return fmt.Errorf("запись ключа %s: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ профиля.
func (s *PostgresStore) Delete(ctx context.Context, profile, key string) error {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`DELETE FROM profile_kv WHERE profile = $1 AND key = $2`,
		normalizeProfile(profile), key)
	if err != nil {
		return fmt.Errorf("удаление ключа %s: %w", key, err)
	}
	return nil
}
