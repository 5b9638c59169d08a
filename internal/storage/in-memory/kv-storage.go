package in_memory

import "sync"

type KVStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewKVStorage() *KVStorage {
	return &KVStorage{
		values: make(map[string]string),
	}
}

func (s *KVStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *KVStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *KVStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
