// Package ring maps partition-key vectors onto a 64-bit hash space divided
// evenly across the live node set: with N nodes sorted by id, the j-th node
// owns the j-th equal-sized range. Small membership changes therefore move
// only O(1/N) of the data.
package ring

import (
	"errors"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var ErrNoNodes = errors.New("no nodes in the ring")

// HashKeys returns the deterministic 64-bit hash of a formatted
// partition-key vector.
func HashKeys(keys []string) uint64 {
	return xxhash.Sum64String(strings.Join(keys, "\x1f"))
}

// NodeAt returns the id of the node offset positions past the owner of the
// partition hash, wrapping around the ring. nodes must be sorted by id.
func NodeAt(keys []string, nodes []string, offset int) (string, error) {
	n := len(nodes)
	if n == 0 {
		return "", ErrNoNodes
	}
	// A single node owns the whole space; its range length, 2^64, does not
	// fit in a uint64.
	idx := 0
	if n > 1 {
		rangeLen := math.MaxUint64/uint64(n) + 1
		idx = int(HashKeys(keys) / rangeLen)
		if idx >= n {
			idx = n - 1
		}
	}
	return nodes[(idx+offset)%n], nil
}

// Primary returns the node whose range contains the partition hash.
func Primary(keys []string, nodes []string) (string, error) {
	return NodeAt(keys, nodes, 0)
}
