package bolt_db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const openTimeout = 2 * time.Second

var bucket = []byte("kv")

// KVStorage keeps key-value pairs in one bucket of a BoltDB file. The file
// stays open and locked until Close.
type KVStorage struct {
	db *bolt.DB
}

func Open(path string) (*KVStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dir for %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt %s: %w", path, err)
	}
	err = db.Update(
		func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucket)
			return err
		},
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv bucket: %w", err)
	}
	return &KVStorage{db: db}, nil
}

func (s *KVStorage) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(
		func(tx *bolt.Tx) error {
			// Bytes returned by Get are only valid inside the transaction.
			if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
				value = string(v)
				found = true
			}
			return nil
		},
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, found, nil
}

func (s *KVStorage) Set(key, value string) error {
	err := s.db.Update(
		func(tx *bolt.Tx) error {
			return tx.Bucket(bucket).Put([]byte(key), []byte(value))
		},
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Remove(key string) error {
	err := s.db.Update(
		func(tx *bolt.Tx) error {
			return tx.Bucket(bucket).Delete([]byte(key))
		},
	)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Close() error {
	return s.db.Close()
}
