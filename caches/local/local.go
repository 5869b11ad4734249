package local

import (
	"context"
	"sync"

	goswcache "github.com/offlinekit/go-sw-cache"
	"github.com/offlinekit/go-sw-cache/caches"
)

// BasicStorage keeps cache generations in process memory. It is the default
// backend and the one the worker tests run against.
type BasicStorage struct {
	stores map[string]map[string]*goswcache.Entry

	lock sync.RWMutex
}

func NewBasicStorage() *BasicStorage {
	return &BasicStorage{
		stores: make(map[string]map[string]*goswcache.Entry),
	}
}

func (bs *BasicStorage) Open(_ context.Context, name string) (goswcache.Store, error) {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	if _, ok := bs.stores[name]; !ok {
		bs.stores[name] = make(map[string]*goswcache.Entry)
	}

	return &basicStore{parent: bs, name: name}, nil
}

func (bs *BasicStorage) List(_ context.Context) ([]string, error) {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	names := make([]string, 0, len(bs.stores))
	for name := range bs.stores {
		names = append(names, name)
	}
	return names, nil
}

func (bs *BasicStorage) Remove(_ context.Context, name string) error {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	if _, ok := bs.stores[name]; !ok {
		return caches.ErrNoStore
	}
	delete(bs.stores, name)
	return nil
}

type basicStore struct {
	parent *BasicStorage
	name   string
}

func (s *basicStore) Match(_ context.Context, key string) (*goswcache.Entry, error) {
	s.parent.lock.RLock()
	defer s.parent.lock.RUnlock()

	val, found := s.parent.stores[s.name][key]
	if !found {
		return nil, caches.ErrNoCacheItem
	}

	return val, nil
}

func (s *basicStore) Put(_ context.Context, key string, e *goswcache.Entry) error {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()

	m, ok := s.parent.stores[s.name]
	if !ok {
		// the generation was removed after Open; recreate it
		m = make(map[string]*goswcache.Entry)
		s.parent.stores[s.name] = m
	}
	m[key] = e

	return nil
}

func (s *basicStore) Delete(_ context.Context, key string) error {
	s.parent.lock.Lock()
	defer s.parent.lock.Unlock()

	delete(s.parent.stores[s.name], key)
	return nil
}

func (s *basicStore) Keys(_ context.Context) ([]string, error) {
	s.parent.lock.RLock()
	defer s.parent.lock.RUnlock()

	m := s.parent.stores[s.name]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys, nil
}
