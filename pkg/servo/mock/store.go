package mock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by a Store when no item exists for a client and key.
var ErrNotFound = errors.New("mock: item not found")

// Item is a stored value together with the content type it was written with.
type Item struct {
	Client      string
	Key         string
	ContentType string
	Data        []byte
	UpdatedAt   time.Time
}

// StoreStats summarises a store's contents.
type StoreStats struct {
	Items   int `json:"items"`
	Clients int `json:"clients"`
}

// Store persists items scoped per client.
type Store interface {
	Get(ctx context.Context, client, key string) (*Item, error)
	// Put writes the item and reports whether it did not exist before.
	Put(ctx context.Context, item *Item) (created bool, err error)
	Delete(ctx context.Context, client, key string) error
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}

type itemKey struct {
	client string
	key    string
}

// MemoryStore keeps items in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[itemKey]*Item
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[itemKey]*Item)}
}

func (s *MemoryStore) Get(ctx context.Context, client, key string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[itemKey{client, key}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(it), nil
}

func (s *MemoryStore) Put(ctx context.Context, item *Item) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := itemKey{item.Client, item.Key}
	_, exists := s.items[k]
	s.items[k] = cloneItem(item)
	return !exists, nil
}

func (s *MemoryStore) Delete(ctx context.Context, client, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := itemKey{client, key}
	if _, ok := s.items[k]; !ok {
		return ErrNotFound
	}
	delete(s.items, k)
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (StoreStats, error) {
	if err := ctx.Err(); err != nil {
		return StoreStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make(map[string]struct{})
	for k := range s.items {
		clients[k.client] = struct{}{}
	}
	return StoreStats{Items: len(s.items), Clients: len(clients)}, nil
}

// Keys lists the keys stored for client in sorted order.
func (s *MemoryStore) Keys(client string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.items {
		if k.client == client {
			keys = append(keys, k.key)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *MemoryStore) Close() error { return nil }

func cloneItem(it *Item) *Item {
	cp := *it
	cp.Data = append([]byte(nil), it.Data...)
	return &cp
}
