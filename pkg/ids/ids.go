// Package ids generates identifiers.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewUUID returns a random entity id.
func NewUUID() string {
	return uuid.NewString()
}

// NewULID returns a lexicographically sortable id. Ids minted in the same millisecond
// still sort in creation order.
func NewULID(at time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
