// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cube

import (
	"fmt"
	"log/slog"
	"sync"
)

// PoolConfig holds the parameters for a bucket pool.
type PoolConfig struct {
	// Descriptor fixes the bucket size. Required.
	Descriptor *Descriptor

	// MaxIdle caps the number of idle buckets kept per flag set.
	// Returned buckets beyond the cap are dropped for the garbage
	// collector. Zero means unlimited.
	MaxIdle int

	// Logger receives debug messages about allocation. If nil, a
	// no-op logger is used.
	Logger *slog.Logger
}

// PoolStats is a snapshot of pool activity.
type PoolStats struct {
	Checkouts   uint64
	Returns     uint64
	Allocations uint64
	Discards    uint64
	Outstanding int
	Idle        int
}

// Pool recycles buckets between regions. A bucket's flags are fixed
// at checkout; idle buckets are kept per flag set.
//
// Pool is safe for concurrent use. Buckets are not: each belongs to
// the region that checked it out until it is returned.
type Pool struct {
	descriptor *Descriptor
	maxIdle    int
	logger     *slog.Logger

	mu          sync.Mutex
	idle        map[Flags][]*Bucket
	outstanding map[*Bucket]struct{}
	stats       PoolStats
}

// NewPool returns an empty pool.
func NewPool(config PoolConfig) (*Pool, error) {
	if config.Descriptor == nil {
		return nil, fmt.Errorf("cube: pool requires a descriptor")
	}
	if config.MaxIdle < 0 {
		return nil, fmt.Errorf("cube: pool MaxIdle %d is negative", config.MaxIdle)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		descriptor:  config.Descriptor,
		maxIdle:     config.MaxIdle,
		logger:      logger,
		idle:        make(map[Flags][]*Bucket),
		outstanding: make(map[*Bucket]struct{}),
	}, nil
}

// Descriptor returns the geometry the pool allocates for.
func (p *Pool) Descriptor() *Descriptor { return p.descriptor }

// Checkout returns a bucket carrying exactly the arrays in flags. Its
// contents are unspecified; the caller initializes it.
func (p *Pool) Checkout(flags Flags) *Bucket {
	flags &= allFlags

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Checkouts++
	var bucket *Bucket
	if free := p.idle[flags]; len(free) > 0 {
		bucket = free[len(free)-1]
		free[len(free)-1] = nil
		p.idle[flags] = free[:len(free)-1]
	} else {
		bucket = newBucket(flags, p.descriptor.GridPointCount())
		p.stats.Allocations++
		p.logger.Debug("bucket allocated",
			"flags", flags,
			"grid_points", p.descriptor.GridPointCount(),
		)
	}
	p.outstanding[bucket] = struct{}{}
	return bucket
}

// Return gives a bucket back to the pool. Returning a bucket that is
// not checked out from this pool panics: it means two regions believed
// they owned it.
func (p *Pool) Return(bucket *Bucket) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.outstanding[bucket]; !ok {
		panic("cube: bucket returned to a pool that does not have it checked out")
	}
	delete(p.outstanding, bucket)
	p.stats.Returns++

	if p.maxIdle > 0 && len(p.idle[bucket.flags]) >= p.maxIdle {
		p.stats.Discards++
		return
	}
	p.idle[bucket.flags] = append(p.idle[bucket.flags], bucket)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Outstanding = len(p.outstanding)
	for _, free := range p.idle {
		stats.Idle += len(free)
	}
	return stats
}
