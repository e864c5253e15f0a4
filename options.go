package logkv

import (
	"golang.org/x/time/rate"

	"github.com/hupe1980/logkv/codec"
)

const (
	// DefaultSlotCount is the number of slots available when none is
	// configured. Slot ids range from 0 to SlotCount-1.
	DefaultSlotCount = 256

	// DefaultMaxKeySize is the default upper bound for key bytes.
	DefaultMaxKeySize = 1 << 16

	// DefaultMaxValueSize is the default upper bound for value bytes.
	DefaultMaxValueSize = 1 << 24
)

type options struct {
	slotCount        int
	maxKeySize       int
	maxValueSize     int
	codec            codec.Codec
	logger           *Logger
	metrics          MetricsCollector
	compressionLevel int   // 0 disables value compression
	mergeRateBytes   int64 // 0 leaves merge unthrottled
	valueCacheSize   int64 // 0 disables the value read cache

	// mergeRateLimit is built by Open once the size bounds are final, so
	// its burst always admits the largest possible entry.
	mergeRateLimit *rate.Limiter
}

// Option configures Open behavior.
type Option func(*options)

// WithSlotCount bounds the slot ids accepted by the store to [0, n).
// n must fit the on-disk slot byte, so it is capped at 256.
func WithSlotCount(n int) Option {
	return func(o *options) {
		if n > 0 && n <= 256 {
			o.slotCount = n
		}
	}
}

// WithMaxKeySize bounds the size of keys in bytes.
func WithMaxKeySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxKeySize = n
		}
	}
}

// WithMaxValueSize bounds the size of values in bytes.
func WithMaxValueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxValueSize = n
		}
	}
}

// WithCodec configures the codec used by the typed InsertValue/GetInto
// helpers. If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger configures structured logging. If nil is passed, logging is
// disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetrics configures a metrics collector. If nil is passed, metrics are
// disabled.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

// WithCompression enables zstd compression for values, using the given zstd
// level (1-11). Values are stored compressed only when that makes them
// smaller; reads are transparent either way.
func WithCompression(level int) Option {
	return func(o *options) {
		if level > 0 {
			o.compressionLevel = level
		}
	}
}

// WithValueCache keeps up to capacityBytes of recently read values in an
// in-memory LRU, saving log reads and decompression on hot keys. Zero
// disables the cache.
func WithValueCache(capacityBytes int64) Option {
	return func(o *options) {
		if capacityBytes > 0 {
			o.valueCacheSize = capacityBytes
		}
	}
}

// WithMergeRateLimit throttles merge reads and writes to roughly
// bytesPerSec, so a compaction of a large store does not starve foreground
// I/O. Zero leaves merge unthrottled.
func WithMergeRateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		if bytesPerSec > 0 {
			o.mergeRateBytes = bytesPerSec
		}
	}
}

func defaultOptions() options {
	return options{
		slotCount:    DefaultSlotCount,
		maxKeySize:   DefaultMaxKeySize,
		maxValueSize: DefaultMaxValueSize,
		codec:        codec.Default,
		logger:       NoopLogger(),
		metrics:      NoopMetricsCollector{},
	}
}
