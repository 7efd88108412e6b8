// Package ids generates the identifiers used for entities, roles,
// assignments and permissions. ULIDs sort by creation time, which keeps
// index pages append-mostly and makes ids safe to expose in URLs.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a ULID string. Monotonic entropy keeps ids generated within
// the same millisecond ordered.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
