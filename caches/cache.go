package caches

import (
	"fmt"
	"net/http"
	"time"
)

var (
	// DefaultExpiredDuration the default duration database-backed stores keep
	// an entry before their cleanup task may drop it
	DefaultExpiredDuration = 24 * time.Hour

	// DefaultExpiredTaskTimer is the default duration of the expired task timer
	DefaultExpiredTaskTimer = 10 * time.Minute
)

// Key derives the cache key for a request: the method and the full URL,
// separated by '#'. Matching is exact, there is no normalization.
func Key(r http.Request) string {
	return fmt.Sprintf("%s#%s", r.Method, r.URL.String())
}
