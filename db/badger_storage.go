package db

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type BadgerStorage struct {
	db *badger.DB
}

func NewBadgerStorage(dirname string) (Storage, error) {
	return openBadger(badger.DefaultOptions(dirname).WithLogger(nil))
}

// NewMemoryStorage 不落盘的缓存，进程退出即丢失
func NewMemoryStorage() (Storage, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func openBadger(opts badger.Options) (Storage, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStorage{db: db}, nil
}

// PutIfAbsentWithTTL 如果没有则放入value，并返回true，否则返回false
func (s BadgerStorage) PutIfAbsentWithTTL(key string, value string, ttl time.Duration) bool {
	put := false
	_ = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		put = true
		return txn.SetEntry(badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl))
	})
	return put
}

// Get 不存在时返回空字符串
func (s BadgerStorage) Get(key string) (string, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == nil {
			val, err = item.ValueCopy(nil)
			return err
		} else if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	return string(val), err
}

func (s BadgerStorage) SaveWithTTL(key string, value string, ttl time.Duration) error {
	return s.SaveKeysWithTTL([]string{key}, value, ttl)
}

func (s BadgerStorage) SaveKeysWithTTL(keys []string, value string, ttl time.Duration) error {
	wb := s.db.NewWriteBatch()
	valueBytes := []byte(value)
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.SetEntry(badger.NewEntry([]byte(key), valueBytes).WithTTL(ttl)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s BadgerStorage) Close() error {
	return s.db.Close()
}
