// Package idgen generates time-sortable identifiers for engine-owned
// objects (operation ids, backup ids) the same way the teacher generates
// commit ids: ULIDs via github.com/oklog/ulid/v2, guarded by a mutex around
// the shared monotonic entropy source.
package idgen

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewOperationID generates a new ULID-based operation id, used for backup
// ref names and journal file names (spec §6.3).
func NewOperationID() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ShortID returns the last 7 characters of an id, lowercased. This differs
// from diffmodel.CommitId.Short, which keeps the leading characters.
func ShortID(id string) string {
	s := strings.ToLower(id)
	if len(s) <= 7 {
		return s
	}
	return s[len(s)-7:]
}

// Timestamp extracts the creation time encoded in a ULID-based id, used by
// backup retention to judge a backup's age without storing a separate
// timestamp field.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
