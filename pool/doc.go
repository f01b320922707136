// Package pool provides a self-scaling worker pool for one-shot tasks.
//
// The primary type is Pool, a set of long-lived worker goroutines pulling
// from an unbounded FIFO queue. The pool grows and shrinks between a floor
// and a ceiling based on load, records per-task latency, and recovers
// panicking tasks without losing the worker.
//
// # Basic Usage
//
//	p, err := pool.New(ctx,
//	    pool.WithBounds(2, 32),
//	    pool.WithInitialWorkers(4),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Destroy()
//
//	err = p.Submit(pool.TaskFunc(func(ctx context.Context) {
//	    handle(ctx, conn)
//	}))
//
// # Autoscaling
//
// Every successful Submit evaluates the scaling Policy, at most once per
// scale interval. The signal is the load ratio (active / workers) combined
// with the queue depth:
//
//   - Scale up when the ratio exceeds UpThreshold and the queue is above
//     HighWater. The pool grows by 50%, capped at the maximum.
//   - Scale down when the ratio is below DownThreshold and the queue is below
//     LowWater. The pool shrinks by 25%, floored at the minimum.
//
// Shrinking is cooperative: a worker only retires while parked waiting for
// work, never in the middle of a task.
//
// # Ordering
//
// Tasks are queued in submission order. With several idle workers racing to
// dequeue, start order is best-effort FIFO only.
//
// # Shutdown
//
// Destroy is a one-way latch. It rejects new submissions, lets workers finish
// whatever is already queued, joins every worker ever started (retired ones
// included), and hands any unclaimed task to its Discard method.
//
// # Configuration Options
//
//   - WithBounds(min, max): worker floor and ceiling (default 2, 32)
//   - WithInitialWorkers(n): workers started by New (default 4)
//   - WithScaleInterval(d): minimum time between evaluations (default 5s)
//   - WithPolicy(p): thresholds and watermarks
//   - WithWorkerInit(fn): per-worker setup hook, run on the worker goroutine
//   - WithCPUAffinity(): pin each worker to a core
//   - WithLogger(l), WithClock(fn)
package pool
