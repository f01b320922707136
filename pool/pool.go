package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/utkarsh5026/dialogrelay/internal/logging"
)

// Pool is a dynamically sized set of workers draining a shared task queue.
//
// The mutex guards the slot array and the scaling fields. Counters are
// atomics so Stats never takes the lock; readers may see slightly stale
// values.
type Pool struct {
	cfg *poolConfig
	log *logging.Logger
	ctx context.Context
	q   *queue

	mu        sync.Mutex
	slots     []*slot
	lastScale time.Time

	shutdown    atomic.Bool
	destroyOnce sync.Once
	wg          sync.WaitGroup

	workers       atomic.Int64
	active        atomic.Int64
	queued        atomic.Int64
	completed     atomic.Int64
	totalTaskMs   atomic.Int64
	minTaskMs     atomic.Int64
	maxTaskMs     atomic.Int64
	started       atomic.Int64
	retired       atomic.Int64
	lastScaleNano atomic.Int64
}

// New creates a pool and starts its initial workers.
//
// Bounds are validated before anything is allocated. If any initial worker
// fails to start, the workers already running are stopped and joined and the
// error is returned.
//
// ctx is handed to every task. Cancelling it does not stop the pool; use
// Destroy for that.
//
// Example:
//
//	p, err := New(ctx, WithBounds(2, 16), WithInitialWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Destroy()
func New(ctx context.Context, opts ...Option) (*Pool, error) {
	cfg := createConfig(opts...)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:       cfg,
		log:       cfg.log.With("component", "pool"),
		ctx:       ctx,
		q:         newQueue(),
		slots:     make([]*slot, cfg.maxWorkers),
		lastScale: cfg.now(),
	}
	p.lastScaleNano.Store(p.lastScale.UnixNano())

	p.mu.Lock()
	for id := range cfg.initialWorkers {
		if err := p.spawnLocked(id); err != nil {
			p.mu.Unlock()
			p.Destroy()
			return nil, err
		}
		p.workers.Add(1)
	}
	p.mu.Unlock()

	p.log.Info("pool started",
		"workers", cfg.initialWorkers,
		"min", cfg.minWorkers,
		"max", cfg.maxWorkers,
		"scale_interval", cfg.scaleInterval,
	)
	return p, nil
}

// Submit queues a task for execution and then gives the autoscaler a chance
// to run.
//
// It fails with ErrNilPool, ErrNilTask or ErrPoolClosed. On ErrPoolClosed the
// task was not accepted and the caller still owns whatever it holds.
func (p *Pool) Submit(t Task) error {
	if p == nil {
		return ErrNilPool
	}
	if isNilTask(t) {
		return ErrNilTask
	}
	if p.shutdown.Load() {
		return ErrPoolClosed
	}

	p.queued.Add(1)
	if err := p.q.push(t); err != nil {
		p.queued.Add(-1)
		return err
	}

	p.autoscale()
	return nil
}

// Destroy shuts the pool down. It is idempotent and safe on a nil pool.
//
// New submissions are rejected from the moment it is called. Workers finish
// the tasks already queued, then every worker ever started is joined,
// including ones retired by a scale-down. Tasks that no worker claimed are
// discarded.
func (p *Pool) Destroy() {
	if p == nil {
		return
	}

	p.destroyOnce.Do(func() {
		p.mu.Lock()
		p.shutdown.Store(true)
		p.q.close()
		for i := range p.slots {
			p.slots[i] = nil
		}
		p.mu.Unlock()

		p.wg.Wait()

		left := p.q.drain()
		for _, t := range left {
			p.queued.Add(-1)
			discard(t)
		}

		p.log.Info("pool stopped",
			"completed", p.completed.Load(),
			"started", p.started.Load(),
			"discarded", len(left),
		)
	})
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	Workers     int
	Min         int
	Max         int
	Active      int64
	Queued      int64
	Completed   int64
	TotalTaskMs int64
	MinTaskMs   int64
	MaxTaskMs   int64
	Started     int64
	Retired     int64
	LastScale   time.Time
}

// AvgTaskMs returns the mean task latency in milliseconds.
func (s Stats) AvgTaskMs() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.TotalTaskMs) / float64(s.Completed)
}

// LoadRatio returns Active/Workers.
func (s Stats) LoadRatio() float64 {
	return Snapshot{Active: s.Active, Workers: s.Workers}.LoadRatio()
}

// Stats returns the current counters without locking.
func (p *Pool) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{
		Workers:     int(p.workers.Load()),
		Min:         p.cfg.minWorkers,
		Max:         p.cfg.maxWorkers,
		Active:      p.active.Load(),
		Queued:      p.queued.Load(),
		Completed:   p.completed.Load(),
		TotalTaskMs: p.totalTaskMs.Load(),
		MinTaskMs:   p.minTaskMs.Load(),
		MaxTaskMs:   p.maxTaskMs.Load(),
		Started:     p.started.Load(),
		Retired:     p.retired.Load(),
		LastScale:   time.Unix(0, p.lastScaleNano.Load()),
	}
}

// Closed reports whether Destroy has been called.
func (p *Pool) Closed() bool {
	return p == nil || p.shutdown.Load()
}
