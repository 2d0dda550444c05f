package db

import "time"

// Storage 带过期时间的键值缓存
type Storage interface {
	Get(key string) (string, error)
	SaveWithTTL(key string, value string, ttl time.Duration) error
	SaveKeysWithTTL(keys []string, value string, ttl time.Duration) error
	PutIfAbsentWithTTL(key string, value string, ttl time.Duration) bool
	Close() error
}
