package pool

import (
	"fmt"
	"math"
)

// Action is the outcome of one autoscaler evaluation.
type Action int

const (
	ActionNone Action = iota
	ActionScaleUp
	ActionScaleDown
)

func (a Action) String() string {
	switch a {
	case ActionScaleUp:
		return "scale_up"
	case ActionScaleDown:
		return "scale_down"
	default:
		return "none"
	}
}

const (
	growFactor   = 1.5
	shrinkFactor = 0.75
)

// Policy holds the thresholds the autoscaler compares against.
type Policy struct {
	// UpThreshold is the load ratio above which the pool may grow.
	UpThreshold float64
	// DownThreshold is the load ratio below which the pool may shrink.
	DownThreshold float64
	// HighWater is the queue depth that must be exceeded to grow.
	HighWater int64
	// LowWater is the queue depth that must not be reached to shrink.
	LowWater int64
}

// DefaultPolicy returns the thresholds used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		UpThreshold:   0.8,
		DownThreshold: 0.2,
		HighWater:     5,
		LowWater:      2,
	}
}

// Snapshot is the pool state a Policy decides on.
type Snapshot struct {
	Active  int64
	Queued  int64
	Workers int
	Min     int
	Max     int
}

// LoadRatio returns Active/Workers, or 0 for an empty pool.
func (s Snapshot) LoadRatio() float64 {
	if s.Workers <= 0 {
		return 0
	}
	return float64(s.Active) / float64(s.Workers)
}

// Decision is what the autoscaler should do.
type Decision struct {
	Action    Action
	Current   int
	Target    int
	LoadRatio float64
	Reason    string
}

// Evaluate decides whether to grow or shrink. Scale-up is checked first; the
// two conditions are mutually exclusive for any sane policy.
func (p Policy) Evaluate(s Snapshot) Decision {
	ratio := s.LoadRatio()
	d := Decision{
		Action:    ActionNone,
		Current:   s.Workers,
		Target:    s.Workers,
		LoadRatio: ratio,
	}

	switch {
	case ratio > p.UpThreshold && s.Queued > p.HighWater && s.Workers < s.Max:
		d.Action = ActionScaleUp
		d.Target = min(s.Max, int(math.Ceil(float64(s.Workers)*growFactor)))
		d.Reason = fmt.Sprintf("load %.2f > %.2f with %d queued", ratio, p.UpThreshold, s.Queued)

	case ratio < p.DownThreshold && s.Queued < p.LowWater && s.Workers > s.Min:
		d.Action = ActionScaleDown
		d.Target = max(s.Min, int(math.Floor(float64(s.Workers)*shrinkFactor)))
		d.Reason = fmt.Sprintf("load %.2f < %.2f with %d queued", ratio, p.DownThreshold, s.Queued)

	default:
		d.Reason = "within thresholds"
	}

	if d.Target == d.Current {
		d.Action = ActionNone
	}
	return d
}

// autoscale runs one gated evaluation and applies its decision. It is called
// after every successful Submit.
func (p *Pool) autoscale() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown.Load() {
		return
	}

	now := p.cfg.now()
	if now.Sub(p.lastScale) < p.cfg.scaleInterval {
		return
	}
	p.lastScale = now
	p.lastScaleNano.Store(now.UnixNano())

	d := p.cfg.policy.Evaluate(p.snapshotLocked())
	switch d.Action {
	case ActionScaleUp:
		p.growLocked(d.Target)
		p.log.Info("pool scaled up", "from", d.Current, "to", p.workers.Load(), "reason", d.Reason)
	case ActionScaleDown:
		p.shrinkLocked(d.Target)
		p.log.Info("pool scaled down", "from", d.Current, "to", d.Target, "reason", d.Reason)
	}
}

func (p *Pool) snapshotLocked() Snapshot {
	return Snapshot{
		Active:  p.active.Load(),
		Queued:  p.queued.Load(),
		Workers: int(p.workers.Load()),
		Min:     p.cfg.minWorkers,
		Max:     p.cfg.maxWorkers,
	}
}

// growLocked starts workers for slots [workers, target). Each started worker
// is counted immediately, so a failure part way leaves a smaller but valid
// pool.
func (p *Pool) growLocked(target int) {
	for id := int(p.workers.Load()); id < target; id++ {
		if err := p.spawnLocked(id); err != nil {
			p.log.Warn("scale up aborted", "target", target, "workers", p.workers.Load(), "error", err)
			return
		}
		p.workers.Add(1)
	}
}

// shrinkLocked signals retirement to slots [target, workers) from the top
// down and lowers the worker count right away. Signalled workers exit the
// next time they park on the queue.
func (p *Pool) shrinkLocked(target int) {
	for id := int(p.workers.Load()) - 1; id >= target; id-- {
		if s := p.slots[id]; s != nil {
			close(s.retire)
			p.slots[id] = nil
		}
	}
	p.workers.Store(int64(target))
}
