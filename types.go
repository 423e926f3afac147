package grove

import "bytes"

const (
	// MinOrder is the smallest supported branching factor. An order below 3
	// cannot split or merge meaningfully.
	MinOrder = 3

	// MaxOrder bounds the branching factor so a full branch node always fits
	// in one page.
	MaxOrder = 128

	// DefaultOrder is used when no WithOrder option is supplied.
	DefaultOrder = 64

	// MaxKeySize is the absolute cap on key length, in bytes. The effective
	// limit for a tree is derived from its order (see maxBranchKey) and is
	// usually smaller.
	MaxKeySize = 1024

	// MaxValueSize is the absolute cap on value length, in bytes. Values
	// live inline in leaf pages; the effective key+value limit for a tree is
	// derived from its order (see maxLeafEntry).
	MaxValueSize = 2048
)

// Compare defines the total ordering over keys. It must return a negative
// number when a < b, zero when a == b, and a positive number when a > b,
// and must be consistent across every open of the same tree.
type Compare func(a, b []byte) int

// DefaultCompare orders keys as raw byte strings.
func DefaultCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// minKeys returns the minimum number of entries a non-root node must hold:
// ceil(order/2) - 1. The root is exempt.
func minKeys(order int) int {
	return (order+1)/2 - 1
}

// maxKeys returns the maximum number of entries any node may hold: order - 1.
func maxKeys(order int) int {
	return order - 1
}

// maxLeafEntry returns the largest key+value byte total one leaf entry may
// hold so that a full leaf of order-1 entries always fits in one page.
// Capacity is counted in entries, so the per-entry budget has to carry the
// guarantee.
func maxLeafEntry(order int) int {
	return (PageSize-pageHeaderSize)/maxKeys(order) - leafElementSize
}

// maxBranchKey returns the largest key a branch node can route with a full
// complement of order-1 separators. The trailing 8 bytes hold the first
// child pointer.
func maxBranchKey(order int) int {
	return (PageSize-pageHeaderSize-8)/maxKeys(order) - branchElementSize
}
