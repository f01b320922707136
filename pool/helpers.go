package pool

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrNilPool       = errors.New("pool: nil pool")
	ErrNilTask       = errors.New("pool: nil task")
	ErrPoolClosed    = errors.New("pool: shutting down")
	ErrInvalidBounds = errors.New("pool: invalid worker bounds")
)

// validate checks min <= initial <= max before anything is allocated.
func (cfg *poolConfig) validate() error {
	switch {
	case cfg.minWorkers < 1:
		return fmt.Errorf("%w: min %d must be at least 1", ErrInvalidBounds, cfg.minWorkers)
	case cfg.maxWorkers < cfg.minWorkers:
		return fmt.Errorf("%w: max %d below min %d", ErrInvalidBounds, cfg.maxWorkers, cfg.minWorkers)
	case cfg.initialWorkers < cfg.minWorkers || cfg.initialWorkers > cfg.maxWorkers:
		return fmt.Errorf("%w: initial %d outside [%d, %d]",
			ErrInvalidBounds, cfg.initialWorkers, cfg.minWorkers, cfg.maxWorkers)
	case cfg.policy.DownThreshold > cfg.policy.UpThreshold:
		return fmt.Errorf("%w: down threshold %.2f above up threshold %.2f",
			ErrInvalidBounds, cfg.policy.DownThreshold, cfg.policy.UpThreshold)
	}
	return nil
}

// storeMin lowers v to x when v is unset (zero) or larger.
func storeMin(v *atomic.Int64, x int64) {
	for {
		cur := v.Load()
		if cur != 0 && cur <= x {
			return
		}
		if v.CompareAndSwap(cur, x) {
			return
		}
	}
}

// storeMax raises v to x when x is larger.
func storeMax(v *atomic.Int64, x int64) {
	for {
		cur := v.Load()
		if x <= cur {
			return
		}
		if v.CompareAndSwap(cur, x) {
			return
		}
	}
}
