package goswcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/offlinekit/go-sw-cache/caches"
)

// Worker implements http.RoundTripper and provides the offline cache
// lifecycle: install-time precaching, activation-time eviction of stale cache
// generations, and per-request interception with cache-first serving for
// immutable assets and stale-while-revalidate serving for documents.
type Worker struct {
	Wrapped http.RoundTripper

	storage  Storage
	notifier Broadcaster
	logger   *slog.Logger
	now      func() time.Time

	c Config

	mu       sync.Mutex
	timers   map[string]evictionTimer
	timerSeq uint64

	wg sync.WaitGroup
}

// evictionTimer pairs a debounce timer with the schedule sequence that armed
// it, so a callback that was already running when a reschedule replaced it can
// tell it has been superseded.
type evictionTimer struct {
	t   *time.Timer
	seq uint64
}

// Install opens the cache store named by the configured cache name and
// pre-populates it with every manifest URL. If any asset fails to fetch the
// whole install fails: a first-time install removes the store so no partial
// generation persists, and a re-install over an already populated store rolls
// back the entries it touched, so the prior generation keeps serving.
//
// Installing twice with the same cache name and manifest leaves the store's
// entries unchanged apart from their stored-at timestamps.
func (w *Worker) Install(ctx context.Context, m Manifest) error {
	store, err := w.storage.Open(ctx, w.c.CacheName)
	if err != nil {
		return err
	}

	existing, err := store.Keys(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, k := range existing {
		known[k] = true
	}

	// rollback bookkeeping: keys this install created, and the prior entry
	// behind every key it overwrote
	rb := &installRollback{
		hadEntries: len(existing) > 0,
		added:      make(map[string]bool),
		replaced:   make(map[string]*Entry),
	}

	for _, asset := range m {
		u := m.resolve(asset, w.c.Origin)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return w.abortInstall(ctx, store, rb, fmt.Errorf("precache %s: %w", u, err))
		}

		resp, err := w.Wrapped.RoundTrip(req)
		if err != nil {
			return w.abortInstall(ctx, store, rb, fmt.Errorf("precache %s: %w", u, errors.Join(ErrNetworkUnavailable, err)))
		}

		ent, err := entryFromResponse(u, resp, w.now())
		if err != nil {
			return w.abortInstall(ctx, store, rb, fmt.Errorf("precache %s: %w", u, err))
		}
		if ent.Status < 200 || ent.Status > 399 {
			return w.abortInstall(ctx, store, rb, fmt.Errorf("precache %s: unexpected status %d", u, ent.Status))
		}

		key := caches.Key(*req)
		if known[key] {
			if _, seen := rb.replaced[key]; !seen && !rb.added[key] {
				if old, matchErr := store.Match(ctx, key); matchErr == nil {
					rb.replaced[key] = old
				}
			}
		} else {
			rb.added[key] = true
		}

		if err := store.Put(ctx, key, ent); err != nil {
			return w.abortInstall(ctx, store, rb, fmt.Errorf("precache %s: %w", u, err))
		}
	}

	w.logger.InfoContext(ctx, "install complete", "cache", w.c.CacheName, "assets", len(m))
	return nil
}

type installRollback struct {
	hadEntries bool
	added      map[string]bool
	replaced   map[string]*Entry
}

func (w *Worker) abortInstall(ctx context.Context, store Store, rb *installRollback, err error) error {
	metricInstallFailures.Inc()

	if !rb.hadEntries {
		if rmErr := w.storage.Remove(ctx, w.c.CacheName); rmErr != nil {
			w.logger.WarnContext(ctx, "failed to remove partial cache", "cache", w.c.CacheName, "error", rmErr)
		}
		return err
	}

	for k := range rb.added {
		if delErr := store.Delete(ctx, k); delErr != nil {
			w.logger.WarnContext(ctx, "failed to roll back precached entry", "key", k, "error", delErr)
		}
	}
	for k, old := range rb.replaced {
		if putErr := store.Put(ctx, k, old); putErr != nil {
			w.logger.WarnContext(ctx, "failed to restore prior entry", "key", k, "error", putErr)
		}
	}
	return err
}

// Activate enumerates all existing cache stores and removes every store whose
// name differs from the current cache name, so at most one generation is
// resident once activation completes. Removal failures are logged and
// swallowed: a dangling stale store costs storage quota, not correctness.
func (w *Worker) Activate(ctx context.Context) error {
	names, err := w.storage.List(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if name == w.c.CacheName {
			continue
		}
		if err := w.storage.Remove(ctx, name); err != nil {
			w.logger.WarnContext(ctx, "failed to delete stale cache", "cache", name, "error", err)
			continue
		}
		w.logger.DebugContext(ctx, "deleted stale cache", "cache", name)
	}

	return nil
}

// RoundTrip implements http.RoundTripper and handles the per-request caching
// logic.
//
// The process follows these steps:
// 1. Checks for an existing cache entry
// 2. On a miss, fetches from the network and stores the response
// 3. On a static hit, returns the cached response with no network traffic
// 4. On a document hit, returns the cached response immediately and
// revalidates in the background, evicting and notifying clients on change.
func (w *Worker) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		return w.Wrapped.RoundTrip(r)
	}

	store, err := w.storage.Open(ctx, w.c.CacheName)
	if err != nil {
		return nil, err
	}

	key := caches.Key(*r)
	ent, err := store.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, caches.ErrNoCacheItem) {
			w.logger.WarnContext(ctx, "cache lookup failed", "url", r.URL.String(), "error", err)
		}
		return w.fetchAndStore(ctx, store, key, r)
	}

	if isDocumentLike(r.URL, w.c.Origin, ent) {
		w.logger.DebugContext(ctx, "document cache hit", "url", r.URL.String())
		metricCacheHits.WithLabelValues("document").Inc()
		w.revalidateAsync(store, key, r)
	} else {
		w.logger.DebugContext(ctx, "static cache hit", "url", r.URL.String())
		metricCacheHits.WithLabelValues("static").Inc()
	}

	return ent.Response(r), nil
}

func (w *Worker) fetchAndStore(ctx context.Context, store Store, key string, r *http.Request) (*http.Response, error) {
	w.logger.DebugContext(ctx, "cache miss", "url", r.URL.String())
	metricCacheMisses.Inc()

	resp, transportError := w.Wrapped.RoundTrip(r)
	if transportError != nil {
		return nil, errors.Join(ErrNetworkUnavailable, transportError)
	}

	if w.c.excluded(r.URL.String()) {
		return resp, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return resp, nil
	}

	ent, err := entryFromResponse(r.URL.String(), resp, w.now())
	if err != nil {
		return nil, err
	}

	if cacheErr := store.Put(ctx, key, ent); cacheErr != nil {
		w.logger.WarnContext(ctx, "error caching response", "error", cacheErr)
	}

	return ent.Response(r), nil
}

// revalidateAsync refetches a document in the background. The refetch runs on
// its own context so a canceled page request cannot abort it.
func (w *Worker) revalidateAsync(store Store, key string, r *http.Request) {
	req := r.Clone(context.Background())
	req.Body = nil

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), w.c.RevalidateTimeout)
		defer cancel()

		w.revalidateOnce(ctx, store, key, req.WithContext(ctx))
	}()
}

func (w *Worker) revalidateOnce(ctx context.Context, store Store, key string, req *http.Request) {
	metricRevalidations.Inc()

	resp, err := w.Wrapped.RoundTrip(req)
	if err != nil {
		w.logger.DebugContext(ctx, "revalidation fetch failed", "url", req.URL.String(), "error", err)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.DebugContext(ctx, "revalidation skipped", "url", req.URL.String(), "status", resp.StatusCode)
		_ = resp.Body.Close()
		return
	}

	fresh, err := entryFromResponse(req.URL.String(), resp, w.now())
	if err != nil {
		w.logger.DebugContext(ctx, "revalidation read failed", "url", req.URL.String(), "error", err)
		return
	}

	cur, err := store.Match(ctx, key)
	if err == nil && bytes.Equal(cur.Body, fresh.Body) {
		// Content unchanged. Refreshing the stored copy produces no
		// observable change for clients.
		if putErr := store.Put(ctx, key, fresh); putErr != nil {
			w.logger.WarnContext(ctx, "error refreshing cache entry", "error", putErr)
		}
		return
	}

	w.logger.DebugContext(ctx, "stale document detected", "url", req.URL.String())
	w.scheduleEviction(key, fresh)
}

// scheduleEviction arms the debounce timer for key. Overlapping revalidations
// for the same URL coalesce: rescheduling stops the previous timer, so rapid
// repeated navigations produce a single eviction and a single broadcast.
func (w *Worker) scheduleEviction(key string, fresh *Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if et, ok := w.timers[key]; ok && et.t.Stop() {
		w.wg.Done()
	}

	w.timerSeq++
	seq := w.timerSeq
	w.wg.Add(1)
	w.timers[key] = evictionTimer{
		seq: seq,
		t: time.AfterFunc(w.c.DebounceWindow, func() {
			w.evictionTimerFired(key, seq, fresh)
		}),
	}
}

// evictionTimerFired unhooks the timer that fired, then runs the eviction. A
// callback must only remove its own map entry: a late callback that deleted a
// successor timer would leave that timer un-stoppable, and a further
// reschedule could no longer coalesce with it.
func (w *Worker) evictionTimerFired(key string, seq uint64, fresh *Entry) {
	defer w.wg.Done()

	w.mu.Lock()
	if et, ok := w.timers[key]; ok && et.seq == seq {
		delete(w.timers, key)
	}
	w.mu.Unlock()

	w.evictAndNotify(key, fresh)
}

func (w *Worker) evictAndNotify(key string, fresh *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.c.RevalidateTimeout)
	defer cancel()

	store, err := w.storage.Open(ctx, w.c.CacheName)
	if err != nil {
		w.logger.WarnContext(ctx, "eviction aborted, cache unavailable", "error", err)
		return
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "eviction aborted, cannot list cache", "error", err)
		return
	}

	for _, k := range keys {
		if k == key {
			continue
		}
		if delErr := store.Delete(ctx, k); delErr != nil {
			w.logger.WarnContext(ctx, "eviction failed", "key", k, "error", delErr)
			continue
		}
		metricEvictions.Inc()
	}

	if putErr := store.Put(ctx, key, fresh); putErr != nil {
		w.logger.WarnContext(ctx, "error storing updated document", "error", putErr)
	}

	if postErr := w.notifier.Post(ctx, UpdateAvailable); postErr != nil {
		w.logger.WarnContext(ctx, "broadcast failed", "error", postErr)
		return
	}
	metricBroadcasts.Inc()
	w.logger.InfoContext(ctx, "update detected, clients notified", "url", fresh.URL)
}

// Flush waits for in-flight revalidations and pending eviction timers to
// complete. Call it before shutting down the process so a detected update is
// not lost between the debounce window and exit.
func (w *Worker) Flush() {
	w.wg.Wait()
}

func entryFromResponse(url string, resp *http.Response, now time.Time) (*Entry, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	h := cloneHeader(resp.Header)
	h.Del("Content-Length")

	return &Entry{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   h,
		Body:     body,
		StoredAt: now,
	}, nil
}

// New creates the worker middleware over an HTTP RoundTripper.
//
// The worker uses the provided Storage implementation for cache generations
// and posts UpdateAvailable on the notifier when a stale document is
// replaced. If 'now' is nil, time.Now is used. If 'logger' is nil, a no-op
// logger writing to io.Discard is used. If 'notifier' is nil, broadcasts are
// discarded.
func New(
	storage Storage,
	notifier Broadcaster,
	opts *Config,
	now func() time.Time,
	logger *slog.Logger,
) func(http.RoundTripper) *Worker {
	nowFunc := now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if notifier == nil {
		notifier = nopBroadcaster{}
	}

	c := Config{}
	if opts == nil {
		c = DefaultConfig()
	} else {
		c = *opts
	}
	if c.CacheName == "" {
		c.CacheName = DefaultConfig().CacheName
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = DefaultConfig().DebounceWindow
	}
	if c.RevalidateTimeout == 0 {
		c.RevalidateTimeout = DefaultConfig().RevalidateTimeout
	}

	return func(rt http.RoundTripper) *Worker {
		if rt == nil {
			rt = http.DefaultTransport
		}
		return &Worker{
			Wrapped:  rt,
			storage:  storage,
			notifier: notifier,
			logger:   logger,
			now:      nowFunc,
			c:        c,
			timers:   make(map[string]evictionTimer),
		}
	}
}
