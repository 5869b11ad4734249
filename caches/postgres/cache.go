package postgres

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/gob"
	"errors"
	"log"
	"time"

	_ "github.com/lib/pq"

	goswcache "github.com/offlinekit/go-sw-cache"
	"github.com/offlinekit/go-sw-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed delete_expired.sql
	queryDeleteExpired string
	//go:embed delete_item.sql
	queryDeleteItem string
	//go:embed drop_store.sql
	queryDropStore string
	//go:embed fetch_by_id.sql
	queryFetchByID string
	//go:embed insert_item.sql
	queryInsertItem string
	//go:embed list_keys.sql
	queryListKeys string
	//go:embed list_stores.sql
	queryListStores string
)

// Config defines the configuration options for the PostgreSQL storage
// implementation.
type Config struct {
	// DeleteExpiredItems enables automatic cleanup of expired cache entries
	// through a background task.
	DeleteExpiredItems bool

	// ExpiredTaskTimer defines the interval at which the cleanup task runs.
	// Shorter durations may impact database performance.
	ExpiredTaskTimer time.Duration

	// ItemExpiration defines how long rows remain in the database before the
	// cleanup task may drop them. This is housekeeping only; the worker's own
	// eviction logic is what removes stale generations.
	ItemExpiration time.Duration
}

// Storage implements the goswcache.Storage interface using PostgreSQL as the
// backend. All cache generations share one table, keyed by store name.
type Storage struct {
	db *sql.DB

	expiration time.Duration
	now        func() time.Time
}

func (p *Storage) Open(_ context.Context, name string) (goswcache.Store, error) {
	return &store{parent: p, name: name}, nil
}

func (p *Storage) List(ctx context.Context) ([]string, error) {
	stmt, err := p.db.PrepareContext(ctx, queryListStores)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *Storage) Remove(ctx context.Context, name string) error {
	stmt, err := p.db.PrepareContext(ctx, queryDropStore)
	if err != nil {
		return err
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return caches.ErrNoStore
	}
	return nil
}

type store struct {
	parent *Storage
	name   string
}

// Match retrieves a cache entry from PostgreSQL by its key.
// Returns caches.ErrNoCacheItem if the entry doesn't exist.
func (s *store) Match(ctx context.Context, key string) (*goswcache.Entry, error) {
	stmt, err := s.parent.db.PrepareContext(ctx, queryFetchByID)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var url string
	var raw []byte
	if err := stmt.QueryRowContext(ctx, s.name, key).Scan(&url, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}

	dec := gob.NewDecoder(bytes.NewBuffer(raw))

	var ent goswcache.Entry
	if err := dec.Decode(&ent); err != nil {
		return nil, err
	}

	return &ent, nil
}

// Put stores a cache entry in PostgreSQL, replacing any previous entry for
// the key. Entries are serialized with gob encoding.
func (s *store) Put(ctx context.Context, key string, e *goswcache.Entry) error {
	stmt, err := s.parent.db.PrepareContext(ctx, queryInsertItem)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(e); err != nil {
		return err
	}

	now := s.parent.now().UTC()
	_, err = stmt.ExecContext(ctx, s.name, key, buff.Bytes(), now, now.Add(s.parent.expiration))
	return err
}

func (s *store) Delete(ctx context.Context, key string) error {
	stmt, err := s.parent.db.PrepareContext(ctx, queryDeleteItem)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, s.name, key)
	return err
}

func (s *store) Keys(ctx context.Context) ([]string, error) {
	stmt, err := s.parent.db.PrepareContext(ctx, queryListKeys)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func createTable(ctx context.Context, db *sql.DB) error {
	stmt, err := db.PrepareContext(ctx, queryCreateTable)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx)
	return err
}

func deleteExpiredItems(ctx context.Context, db *sql.DB) error {
	stmt, err := db.PrepareContext(ctx, queryDeleteExpired)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx)
	return err
}

func expiredTask(ctx context.Context, db *sql.DB, every time.Duration) {
	t := time.NewTimer(every)

	for {
		select {
		case <-ctx.Done():
			log.Println("context is done")
			return
		case <-t.C:
			if err := deleteExpiredItems(ctx, db); err != nil {
				log.Println(err)
			}
			_ = t.Reset(every)
		}
	}
}

// New creates a new PostgreSQL storage instance with the provided
// configuration. It verifies the database connection, creates the necessary
// table structure, and optionally starts the cleanup task for expired rows.
//
// Returns an error if:
// - The database connection test fails
// - Table creation fails
func New(ctx context.Context, db *sql.DB, config *Config) (*Storage, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	expiration := caches.DefaultExpiredDuration
	if config != nil && config.ItemExpiration != 0 {
		expiration = config.ItemExpiration
	}

	if config != nil && config.DeleteExpiredItems {
		every := config.ExpiredTaskTimer
		if every == 0 {
			every = caches.DefaultExpiredTaskTimer
		}
		go expiredTask(ctx, db, every)
	}

	return &Storage{
		db: db,

		expiration: expiration,
		now:        time.Now,
	}, nil
}
