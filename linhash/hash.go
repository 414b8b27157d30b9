package linhash

import "github.com/cespare/xxhash/v2"

// positiveHash derives a non-negative 31-bit hash from a key, clearing the
// sign bit the way the canonical integer hash's MIN value is mapped to zero.
func positiveHash(key string) int {
	h := xxhash.Sum64String(key)
	return int(uint32(h) & 0x7fffffff)
}
