// Package leveldb stores cache generations in a single LevelDB database on
// disk. Record keys are "e:<store>#<key>", entries are gob-encoded.
package leveldb

import (
	"bytes"
	"context"
	"encoding/gob"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	goswcache "github.com/offlinekit/go-sw-cache"
	"github.com/offlinekit/go-sw-cache/caches"
)

const recordPrefix = "e:"

type Storage struct {
	db *leveldb.DB
}

func New(path string) (*Storage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Open(_ context.Context, name string) (goswcache.Store, error) {
	if strings.Contains(name, "#") {
		return nil, caches.ValidationError{Reason: "store name must not contain '#'"}
	}
	return &store{db: s.db, name: name}, nil
}

func (s *Storage) List(_ context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(recordPrefix)), nil)
	defer it.Release()

	seen := map[string]struct{}{}
	names := []string{}
	for it.Next() {
		rest := strings.TrimPrefix(string(it.Key()), recordPrefix)
		name, _, ok := strings.Cut(rest, "#")
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, it.Error()
}

func (s *Storage) Remove(_ context.Context, name string) error {
	prefix := []byte(recordPrefix + name + "#")
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	batch := new(leveldb.Batch)
	found := false
	for it.Next() {
		found = true
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		batch.Delete(k)
	}
	if err := it.Error(); err != nil {
		return err
	}
	if !found {
		return caches.ErrNoStore
	}
	return s.db.Write(batch, nil)
}

type store struct {
	db   *leveldb.DB
	name string
}

func (st *store) record(key string) []byte {
	return []byte(recordPrefix + st.name + "#" + key)
}

func (st *store) Match(_ context.Context, key string) (*goswcache.Entry, error) {
	b, err := st.db.Get(st.record(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}

	var ent goswcache.Entry
	if err := decodeGob(b, &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

func (st *store) Put(_ context.Context, key string, e *goswcache.Entry) error {
	b, err := encodeGob(e)
	if err != nil {
		return err
	}
	return st.db.Put(st.record(key), b, nil)
}

func (st *store) Delete(_ context.Context, key string) error {
	return st.db.Delete(st.record(key), nil)
}

func (st *store) Keys(_ context.Context) ([]string, error) {
	prefix := recordPrefix + st.name + "#"
	it := st.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	keys := []string{}
	for it.Next() {
		keys = append(keys, strings.TrimPrefix(string(it.Key()), prefix))
	}
	return keys, it.Error()
}

func encodeGob(v any) ([]byte, error) {
	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(v); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
