package grove

// SyncMode controls when the WAL is fsynced to disk.
type SyncMode int

const (
	// SyncEveryCommit fsyncs the WAL before every mutation returns.
	// - Guarantees zero data loss on power failure
	// - Limited by fsync latency (typically 1-10ms per commit)
	// - Use for: financial transactions, critical data
	SyncEveryCommit SyncMode = iota

	// SyncBytes fsyncs when at least N bytes have been written since the
	// last fsync.
	// - Higher throughput than per-commit fsync
	// - Data loss window: up to N bytes on power failure
	// - Use for: analytics, caches, high-throughput workloads
	SyncBytes

	// SyncOff disables fsync entirely (testing/bulk loads only).
	// - Maximum throughput
	// - All unflushed data lost on crash
	// - Use for: testing, bulk imports with external durability
	SyncOff
)

// Options configures tree behavior.
type Options struct {
	order        int
	compare      Compare
	syncMode     SyncMode
	bytesPerSync int
	cacheSize    int
	logger       Logger
}

func defaultOptions() Options {
	return Options{
		order:        0, // resolved at open: persisted order, else DefaultOrder
		compare:      DefaultCompare,
		syncMode:     SyncEveryCommit,
		bytesPerSync: 1 << 20, // 1MB
		cacheSize:    1024,    // decoded nodes
		logger:       DiscardLogger{},
	}
}

// Option configures tree options using the functional options pattern.
type Option func(*Options)

// WithOrder sets the branching factor for a newly created tree. For an
// existing tree the persisted order is authoritative; supplying a different
// one fails with ErrInvalidOrder.
func WithOrder(order int) Option {
	return func(opts *Options) {
		opts.order = order
	}
}

// WithCompare sets the key ordering. The same ordering must be supplied on
// every open of the same tree.
func WithCompare(cmp Compare) Option {
	return func(opts *Options) {
		opts.compare = cmp
	}
}

// WithSyncMode sets the WAL durability mode.
func WithSyncMode(mode SyncMode) Option {
	return func(opts *Options) {
		opts.syncMode = mode
	}
}

// WithBytesPerSync sets the flush threshold used by SyncBytes.
func WithBytesPerSync(n int) Option {
	return func(opts *Options) {
		opts.bytesPerSync = n
	}
}

// WithCacheSize sets the maximum number of decoded nodes held in the
// read cache.
func WithCacheSize(n int) Option {
	return func(opts *Options) {
		opts.cacheSize = n
	}
}

// WithLogger sets the logger for recovery, checkpoint, and corruption
// events. The default discards everything.
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		opts.logger = l
	}
}
