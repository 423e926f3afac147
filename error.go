package grove

import "errors"

var (
	// ErrInvalidOrder is returned when a tree is opened with Order < MinOrder
	// or Order > MaxOrder, or reopened with an Order that conflicts with the
	// one persisted in the header page.
	ErrInvalidOrder = errors.New("invalid tree order")

	// ErrChecksumMismatch is returned when a page fails checksum verification
	// on read. Only the specific read fails; unrelated pages are unaffected.
	ErrChecksumMismatch = errors.New("page checksum mismatch")

	// ErrCorruptPage is returned when a structural invariant is violated,
	// e.g. a node references a page that cannot be resolved or a page of the
	// wrong kind. Fatal to the current operation only.
	ErrCorruptPage = errors.New("corrupt page")

	// ErrPageOverflow is returned when a node would not fit in one page.
	// This is a configuration error (Order or entry sizes too large for the
	// page size), never silent truncation.
	ErrPageOverflow = errors.New("node exceeds page size")

	// ErrTreeClosed is returned by any operation on a handle after Close,
	// or after a failed commit forced the handle shut.
	ErrTreeClosed = errors.New("tree is closed")

	// ErrKeyEmpty is returned when a key is nil or zero-length.
	ErrKeyEmpty = errors.New("key cannot be empty")

	// ErrKeyTooLarge is returned when a key exceeds the limit for the
	// tree's order, never more than MaxKeySize.
	ErrKeyTooLarge = errors.New("key too large")

	// ErrValueTooLarge is returned when a value exceeds MaxValueSize or the
	// key+value total exceeds the per-entry limit for the tree's order.
	ErrValueTooLarge = errors.New("value too large")

	// ErrInvalidMagicNumber is returned when the header page does not
	// identify the file as a tree.
	ErrInvalidMagicNumber = errors.New("invalid magic number")

	// ErrInvalidVersion is returned when the persisted format version is
	// not supported by this build.
	ErrInvalidVersion = errors.New("invalid format version")

	// ErrInvalidPageSize is returned when the persisted page size differs
	// from PageSize.
	ErrInvalidPageSize = errors.New("invalid page size")

	// ErrInvalidOffset is returned when a page slot references bytes
	// outside the page.
	ErrInvalidOffset = errors.New("invalid page offset")
)
