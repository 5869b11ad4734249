// Package fs stores cache generations as directories of gob files. Writes go
// through a temp file and a rename so partial entries are never observed, and
// a per-generation flock serializes mutations across processes.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	goswcache "github.com/offlinekit/go-sw-cache"
	"github.com/offlinekit/go-sw-cache/caches"
)

const (
	entrySuffix = ".entry"
	lockName    = ".lock"
)

// record wraps an entry with its cache key so Keys can be recovered from the
// hashed file names.
type record struct {
	Key   string
	Entry goswcache.Entry
}

type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return &Storage{root: abs}, nil
}

func (s *Storage) Open(_ context.Context, name string) (goswcache.Store, error) {
	dir, err := s.storeDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &store{dir: dir, lock: flock.New(filepath.Join(dir, lockName))}, nil
}

func (s *Storage) List(_ context.Context) ([]string, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, d := range dirs {
		if d.IsDir() {
			names = append(names, d.Name())
		}
	}
	return names, nil
}

func (s *Storage) Remove(_ context.Context, name string) error {
	dir, err := s.storeDir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return caches.ErrNoStore
	}
	return os.RemoveAll(dir)
}

func (s *Storage) storeDir(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", caches.ValidationError{Reason: fmt.Sprintf("invalid store name %q", name)}
	}
	return filepath.Join(s.root, name), nil
}

type store struct {
	dir  string
	lock *flock.Flock
}

func (st *store) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(st.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

func (st *store) Match(_ context.Context, key string) (*goswcache.Entry, error) {
	rec, err := readRecord(st.entryPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}
	return &rec.Entry, nil
}

func (st *store) Put(_ context.Context, key string, e *goswcache.Entry) error {
	if err := st.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer st.lock.Unlock()

	path := st.entryPath(key)
	tmpPath := path + ".tmp"

	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpPath)

	encErr := gob.NewEncoder(tmpFile).Encode(record{Key: key, Entry: *e})
	closeErr := tmpFile.Close()
	if encErr != nil {
		return fmt.Errorf("failed to write entry: %w", encErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	// rename last so a partial entry file is never visible
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename entry file: %w", err)
	}
	return nil
}

func (st *store) Delete(_ context.Context, key string) error {
	if err := st.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer st.lock.Unlock()

	if err := os.Remove(st.entryPath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (st *store) Keys(_ context.Context) ([]string, error) {
	files, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, err
	}

	keys := []string{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), entrySuffix) {
			continue
		}
		rec, err := readRecord(filepath.Join(st.dir, f.Name()))
		if err != nil {
			// a corrupt entry is a miss, not an error for the whole store
			continue
		}
		keys = append(keys, rec.Key)
	}
	return keys, nil
}

func readRecord(path string) (*record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rec record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
