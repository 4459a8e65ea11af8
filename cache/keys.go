package cache

import (
	"hash/fnv"
	"strconv"

	"github.com/opencontainers/go-digest"
)

// NameGenerator maps an arbitrary identifier to a cache key in the
// [a-z0-9_-]{1,64} alphabet. Collisions are the generator's problem:
// two identifiers mapping to one key share a cache slot.
type NameGenerator func(identifier string) string

// DigestNameGenerator keys by the SHA-256 hex digest of the identifier.
// This is the default: 64 lowercase hex characters, collision-free for
// practical purposes.
func DigestNameGenerator(identifier string) string {
	return digest.FromString(identifier).Encoded()
}

// HashNameGenerator keys by a short FNV-1a hash rendered in decimal.
// Cheap and compact, with a real (if small) collision risk.
func HashNameGenerator(identifier string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identifier))
	return strconv.FormatUint(uint64(h.Sum32()), 10)
}
