package goswcache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// unavailableStorage lets the eviction path run without a working backend:
// the timer bookkeeping under test happens before the store is opened.
type unavailableStorage struct{}

func (unavailableStorage) Open(context.Context, string) (Store, error) {
	return nil, errors.New("storage unavailable")
}
func (unavailableStorage) List(context.Context) ([]string, error) { return nil, nil }
func (unavailableStorage) Remove(context.Context, string) error   { return nil }

func TestLateTimerCallbackKeepsRescheduledTimer(t *testing.T) {
	t.Parallel()

	cfg := Config{CacheName: "cache-v1.0.0", DebounceWindow: time.Hour}
	w := New(unavailableStorage{}, nil, &cfg, nil, nil)(http.DefaultTransport)

	key := "GET#http://origin/index.html"
	fresh := &Entry{URL: "http://origin/index.html", Status: http.StatusOK, Body: []byte("v2")}

	w.scheduleEviction(key, fresh)
	w.mu.Lock()
	first := w.timers[key]
	w.mu.Unlock()

	// a second revalidation reschedules before the first callback has run
	w.scheduleEviction(key, fresh)

	// replay the first timer's callback as if it had already fired and only
	// now got the lock: it must not unhook its successor
	w.wg.Add(1)
	w.evictionTimerFired(key, first.seq, fresh)

	w.mu.Lock()
	current, ok := w.timers[key]
	w.mu.Unlock()
	if !ok {
		t.Fatal("expected the rescheduled timer to stay armed after the late callback")
	}
	if current.seq == first.seq {
		t.Fatal("expected the reschedule to arm a new timer")
	}

	// a further reschedule must still be able to stop the armed timer
	if !current.t.Stop() {
		t.Fatal("expected the current timer to be stoppable")
	}
	w.wg.Done()

	w.mu.Lock()
	delete(w.timers, key)
	w.mu.Unlock()
	w.Flush()
}
