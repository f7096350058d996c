package kv

import (
	"context"
	"sync"

	"clan-sync-bot/internal/domain"
)

// MemoryStore — потокобезопасная реализация domain.ProfileStore в памяти.
// Используется, когда внешнее хранилище не настроено, и в тестах.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

var _ domain.ProfileStore = (*MemoryStore)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

// Get возвращает значение ключа профиля.
func (s *MemoryStore) Get(_ context.Context, profile, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[normalizeProfile(profile)][key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return value, nil
}

// Set записывает значение ключа профиля.
func (s *MemoryStore) Set(_ context.Context, profile, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := normalizeProfile(profile)
	if s.data[p] == nil {
		s.data[p] = make(map[string]string)
	}
	s.data[p][key] = value
	return nil
}

// Delete удаляет ключ профиля.
func (s *MemoryStore) Delete(_ context.Context, profile, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[normalizeProfile(profile)], key)
	return nil
}
