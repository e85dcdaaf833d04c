// Package ids mints the identifiers used for principals, organizations,
// applications, manifests and erasure runs.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// A single monotonic entropy source keeps ids issued within the same
// millisecond ordered. The mutex guards it; ulid.Monotonic readers are not
// safe for concurrent use.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a ULID string. Ids sort by creation time, which the stores
// rely on for ordered listings.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
