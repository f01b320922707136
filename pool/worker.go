package pool

import (
	"fmt"
	"runtime"
	"time"
)

// slot is the pool's handle on a live worker.
type slot struct {
	id     int
	retire chan struct{}
}

// spawnLocked starts a worker for slot id and waits until it is ready to
// take work. Callers hold p.mu. The join is tracked by p.wg, not by the slot,
// so a slot can be reused while a retired worker is still exiting.
func (p *Pool) spawnLocked(id int) error {
	s := &slot{id: id, retire: make(chan struct{})}
	ready := make(chan error, 1)

	p.wg.Add(1)
	go p.worker(s, ready)

	if err := <-ready; err != nil {
		return fmt.Errorf("pool: start worker %d: %w", id, err)
	}

	p.slots[id] = s
	p.started.Add(1)
	return nil
}

// worker is the loop run by every worker goroutine.
func (p *Pool) worker(s *slot, ready chan<- error) {
	defer p.wg.Done()

	if p.cfg.workerInit != nil {
		cleanup, err := p.cfg.workerInit(s.id)
		if err != nil {
			ready <- err
			return
		}
		if cleanup != nil {
			defer cleanup()
		}
	}
	ready <- nil

	log := p.log.With("worker", s.id)
	log.Debug("worker started")

	for {
		t, status := p.q.pop(s.retire)
		switch status {
		case popRetired:
			p.retired.Add(1)
			log.Debug("worker retired")
			return
		case popClosed:
			log.Debug("worker stopped")
			return
		}

		p.queued.Add(-1)
		p.execute(s.id, t)
	}
}

// execute runs one task and records its latency.
func (p *Pool) execute(workerID int, t Task) {
	p.active.Add(1)
	start := time.Now()

	err := runWithRecovery(p, t)

	elapsed := time.Since(start).Milliseconds()
	p.completed.Add(1)
	p.totalTaskMs.Add(elapsed)
	storeMin(&p.minTaskMs, elapsed)
	storeMax(&p.maxTaskMs, elapsed)
	p.active.Add(-1)

	if err != nil {
		p.log.Error("task failed", "worker", workerID, "error", err)
	}
}

// runWithRecovery executes a task, converting a panic into an error so a
// single bad task cannot take the worker down.
func runWithRecovery(p *Pool, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("worker panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()

	t.Run(p.ctx)
	return nil
}
