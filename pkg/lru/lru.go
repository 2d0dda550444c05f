package lru

import (
	"container/list"
	"sync"
)

type (
	// LRU 并发安全的定长缓存
	LRU[K comparable, T any] struct {
		mu       sync.Mutex
		capacity int
		cache    map[K]*list.Element
		list     *list.List
	}
	entity[K comparable, T any] struct {
		key   K
		value T
	}
)

func New[K comparable, T any](capacity int) *LRU[K, T] {
	return &LRU[K, T]{
		capacity: capacity,
		cache:    make(map[K]*list.Element),
		list:     list.New(),
	}
}

func (c *LRU[K, T]) Put(key K, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		elem.Value.(*entity[K, T]).value = value
		c.list.MoveToFront(elem)
		return
	}
	c.cache[key] = c.list.PushFront(&entity[K, T]{key: key, value: value})

	if c.list.Len() > c.capacity {
		if elem := c.list.Back(); elem != nil {
			c.list.Remove(elem)
			delete(c.cache, elem.Value.(*entity[K, T]).key)
		}
	}
}

func (c *LRU[K, T]) Exist(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[key]
	return ok
}

func (c *LRU[K, T]) Get(key K) (value T, exist bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.list.MoveToFront(elem)
		value = elem.Value.(*entity[K, T]).value
		exist = true
	}
	return value, exist
}

func (c *LRU[K, T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}
