package pool

import (
	"time"

	"github.com/utkarsh5026/dialogrelay/internal/cpu"
	"github.com/utkarsh5026/dialogrelay/internal/logging"
)

const (
	DefaultMinWorkers     = 2
	DefaultMaxWorkers     = 32
	DefaultInitialWorkers = 4
	DefaultScaleInterval  = 5 * time.Second
)

// WorkerInit runs on a freshly started worker goroutine before it accepts
// work. A non-nil error aborts that worker's start. The returned cleanup, if
// any, runs when the worker exits.
type WorkerInit func(workerID int) (cleanup func(), err error)

// Option is a functional option for configuring the pool.
type Option func(*poolConfig)

type poolConfig struct {
	minWorkers     int
	maxWorkers     int
	initialWorkers int
	scaleInterval  time.Duration
	policy         Policy
	workerInit     WorkerInit
	log            *logging.Logger
	now            func() time.Time
}

func defaultConfig() *poolConfig {
	return &poolConfig{
		minWorkers:     DefaultMinWorkers,
		maxWorkers:     DefaultMaxWorkers,
		initialWorkers: DefaultInitialWorkers,
		scaleInterval:  DefaultScaleInterval,
		policy:         DefaultPolicy(),
		log:            logging.NopLogger(),
		now:            time.Now,
	}
}

func createConfig(opts ...Option) *poolConfig {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithBounds sets the worker floor and ceiling. Values are validated by New.
func WithBounds(minWorkers, maxWorkers int) Option {
	return func(cfg *poolConfig) {
		cfg.minWorkers = minWorkers
		cfg.maxWorkers = maxWorkers
	}
}

// WithInitialWorkers sets how many workers New starts.
// It must lie within the bounds.
func WithInitialWorkers(n int) Option {
	return func(cfg *poolConfig) {
		cfg.initialWorkers = n
	}
}

// WithScaleInterval sets the minimum time between two autoscaler
// evaluations. Non-positive values are ignored.
func WithScaleInterval(d time.Duration) Option {
	return func(cfg *poolConfig) {
		if d > 0 {
			cfg.scaleInterval = d
		}
	}
}

// WithPolicy replaces the scaling thresholds.
func WithPolicy(p Policy) Option {
	return func(cfg *poolConfig) {
		cfg.policy = p
	}
}

// WithWorkerInit installs a per-worker setup hook.
func WithWorkerInit(fn WorkerInit) Option {
	return func(cfg *poolConfig) {
		cfg.workerInit = fn
	}
}

// WithCPUAffinity locks every worker to an OS thread pinned to core
// workerID mod NumCPU. Pinning failures abort the worker start.
func WithCPUAffinity() Option {
	return WithWorkerInit(cpu.SetupWorkerAffinity)
}

// WithLogger sets the logger used for lifecycle and scaling events.
func WithLogger(l *logging.Logger) Option {
	return func(cfg *poolConfig) {
		if l != nil {
			cfg.log = l
		}
	}
}

// WithClock overrides the time source used by the autoscaler gate.
func WithClock(now func() time.Time) Option {
	return func(cfg *poolConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}
