package cos

import (
	"crypto/rand"
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

// Handle is the stable, compact identifier used by the tree manager's
// owning index (§9 "a single owning index (stable handle -> member
// storage) with list hooks carrying handles, never raw pointers").
// It is derived from the member's GID so it is reproducible across a
// rejoin without needing to dereference the member record.
type Handle uint64

func GIDHandle(gidHi, gidLo uint64) Handle {
	var b [16]byte
	for i := range 8 {
		b[i] = byte(gidHi >> (56 - 8*i))
		b[8+i] = byte(gidLo >> (56 - 8*i))
	}
	return Handle(xxhash.Checksum64(b[:]))
}

var sid = shortid.MustNew(1, shortid.DefaultABC, 0x5173a)

// GenTie produces a short, human-readable tie-breaker id, used wherever the
// wire protocol or the tree manager needs a correlation token that isn't
// security sensitive (e.g. a service-instance suffix in a log line).
func GenTie() string {
	s, err := sid.Generate()
	if err != nil {
		// shortid's only failure mode is worker-id exhaustion, which
		// cannot happen with a single fixed worker id.
		return fmt.Sprintf("tie-%d", CryptoRandU32())
	}
	return s
}

// GenCorrelationID returns a random UUID string. Replication and admin
// frames carry a uint32 Correlation instead and do not use it.
func GenCorrelationID() string { return uuid.NewString() }

func CryptoRandU32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
