package throttle

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Identity derives the stable throttle key for a client from its IP
// address. The address is hashed so arbitrary input never ends up in
// storage keys. The user agent deliberately stays out of the key:
// rotation detection needs every request from one address to land on
// the same state record.
func Identity(ip string) string {
	return strconv.FormatUint(xxhash.Sum64String(ip), 16)
}

// lockStripes is the number of identity lock stripes. Collisions only
// cost unnecessary serialization between two identities, never
// correctness.
const lockStripes = 64

// keyLocks serializes read-modify-write cycles per identity. Two
// concurrent checks for the same identity must not both read the same
// counter value; striping by key hash keeps distinct identities
// independent without a lock per key.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

// lockFor returns the mutex guarding the given key.
func (kl *keyLocks) lockFor(key string) *sync.Mutex {
	return &kl.stripes[xxhash.Sum64String(key)%lockStripes]
}
