package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pbnjay/memory"

	"github.com/lingopack/lingopack/internal/observe"
)

const (
	// baseBatchSize is the packaging batch size under normal memory load.
	baseBatchSize = 50

	// minBatchSize is the floor applied under critical memory pressure.
	minBatchSize = 10

	// maxBatchSize caps the batch when memory is plentiful.
	maxBatchSize = 200

	// defaultResample is how long a memory sample stays fresh.
	defaultResample = time.Minute
)

// usedFraction reports the fraction of system memory currently in use,
// in [0, 1]. It is the default sampler for [Sizer].
func usedFraction() float64 {
	total := memory.TotalMemory()
	if total == 0 {
		return 0
	}
	return 1 - float64(memory.FreeMemory())/float64(total)
}

// Sizer picks the packaging worker's batch size from current memory
// pressure, so a loaded host packages in small careful batches and an idle
// one drains the topic in big ones. Samples are cached for a resample
// interval because reading system memory on every poll is wasteful.
//
// Sizer is safe for concurrent use.
type Sizer struct {
	base     int
	interval time.Duration
	sample   func() float64
	now      func() time.Time

	mu        sync.Mutex
	size      int
	sampledAt time.Time
}

// SizerOption adjusts a [Sizer] during construction.
type SizerOption func(*Sizer)

// WithSampler replaces the memory sampler. fn must return the fraction of
// memory in use, in [0, 1].
func WithSampler(fn func() float64) SizerOption {
	return func(sz *Sizer) {
		if fn != nil {
			sz.sample = fn
		}
	}
}

// WithResampleInterval sets how long a memory sample stays fresh. The
// default is one minute.
func WithResampleInterval(d time.Duration) SizerOption {
	return func(sz *Sizer) {
		if d > 0 {
			sz.interval = d
		}
	}
}

// WithClock replaces the wall clock used to age samples.
func WithClock(now func() time.Time) SizerOption {
	return func(sz *Sizer) {
		if now != nil {
			sz.now = now
		}
	}
}

// NewSizer returns a [Sizer] sampling real system memory.
func NewSizer(opts ...SizerOption) *Sizer {
	sz := &Sizer{
		base:     baseBatchSize,
		interval: defaultResample,
		sample:   usedFraction,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(sz)
	}
	return sz
}

// Size returns the batch size for the next packaging poll, resampling
// memory when the cached sample has gone stale. Size changes are logged.
func (sz *Sizer) Size(ctx context.Context) int {
	sz.mu.Lock()
	defer sz.mu.Unlock()

	now := sz.now()
	if sz.size != 0 && now.Sub(sz.sampledAt) < sz.interval {
		return sz.size
	}

	used := sz.sample()
	size := sizeFor(sz.base, used)
	if size != sz.size {
		observe.Logger(ctx).Info("packaging batch size adjusted",
			"memory_used", used, "batch_size", size, "previous", sz.size)
	}
	sz.size = size
	sz.sampledAt = now
	return size
}

// sizeFor maps a memory-used fraction to a batch size.
//
//	>= 90% used: quarter batches, never below the floor
//	>= 80% used: half batches
//	>= 70% used: the base size
//	 < 70% used: double batches, never above the cap
func sizeFor(base int, used float64) int {
	switch {
	case used >= 0.90:
		return max(minBatchSize, base/4)
	case used >= 0.80:
		return base / 2
	case used >= 0.70:
		return base
	default:
		return min(2*base, maxBatchSize)
	}
}
